package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotKeyIsValid(t *testing.T) {
	key := SnapshotKey(42)
	assert.Equal(t, "rulesets/v000042.json", key)
	assert.NoError(t, ValidateKey(key))
}

func TestValidateKeyRejectsForeignKeys(t *testing.T) {
	for _, key := range []string{"", "/rulesets/v1.json", "rulesets/../secrets.json", "quotes/v1.json", "rulesets/v1.yaml"} {
		assert.Error(t, ValidateKey(key), key)
	}
}
