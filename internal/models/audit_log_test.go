package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditMetadata_ValueAndScan(t *testing.T) {
	metadata := AuditMetadata{"reason": "suspicious_activity", "attempts": float64(2)}

	value, err := metadata.Value()
	require.NoError(t, err)

	var scanned AuditMetadata
	require.NoError(t, scanned.Scan(value))
	assert.Equal(t, metadata, scanned)
}

func TestAuditMetadata_ScanNil(t *testing.T) {
	var scanned AuditMetadata
	require.NoError(t, scanned.Scan(nil))
	assert.NotNil(t, scanned)
	assert.Empty(t, scanned)
}

func TestAuditMetadata_ScanWrongType(t *testing.T) {
	var scanned AuditMetadata
	assert.ErrorIs(t, scanned.Scan(42), ErrBadRequest)
}

func TestAuditMetadata_NilValue(t *testing.T) {
	var metadata AuditMetadata
	value, err := metadata.Value()
	require.NoError(t, err)
	assert.Nil(t, value)
}
