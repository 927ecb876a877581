package memory

import (
	"testing"

	"github.com/vmaliev/crypto/internal/storage"
	"github.com/vmaliev/crypto/internal/storage/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return New() })
}
