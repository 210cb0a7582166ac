package token

import (
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Directory resolves an asset address to its token primitive.
type Directory struct {
	mu     sync.RWMutex
	assets map[common.Address]Transferer
}

func NewDirectory() *Directory {
	return &Directory{assets: make(map[common.Address]Transferer)}
}

// Register binds asset to t, replacing any previous binding.
func (d *Directory) Register(asset common.Address, t Transferer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assets[asset] = t
}

// Resolve returns the primitive for asset.
func (d *Directory) Resolve(asset common.Address) (Transferer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t, ok := d.assets[asset]
	return t, ok
}

// Assets lists the known asset addresses in ascending byte order.
func (d *Directory) Assets() []common.Address {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]common.Address, 0, len(d.assets))
	for a := range d.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out
}
