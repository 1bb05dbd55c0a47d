package memstore

import (
	"testing"

	"burnpaste/internal/storage"
	"burnpaste/internal/storage/storagetest"
)

func TestStoreContract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return New()
	})
}
