package bridge

import (
	"sort"

	"github.com/derekparker/trie"

	"github.com/unhusk/unhusk/pkg/proc"
)

// exportCache holds exactly one full export enumeration snapshot: the
// address-keyed mapping handed to callers and a name index over the same
// snapshot. Refreshing replaces the whole cache, never merges.
type exportCache struct {
	byAddr map[proc.Address]proc.Export
	names  *trie.Trie // export name -> []proc.Address (same name can appear in several modules)
}

// EnumerateExportedFunctions returns the exported functions of all loaded
// modules keyed by address. The first call enumerates and caches; later
// calls return the cached snapshot without touching the agent unless
// updateCache forces a fresh enumeration.
func (p *Controller) EnumerateExportedFunctions(updateCache bool) (map[proc.Address]proc.Export, error) {
	if p.exports != nil && !updateCache {
		return p.exports.byAddr, nil
	}

	records, err := p.rpc.EnumerateExportedFunctions()
	if err != nil {
		return nil, err
	}

	cache := &exportCache{
		byAddr: make(map[proc.Address]proc.Export, len(records)),
		names:  trie.New(),
	}
	for _, rec := range records {
		addr, err := proc.ParseAddress(rec.Address)
		if err != nil {
			return nil, err
		}
		cache.byAddr[addr] = proc.Export{
			Name:    rec.Name,
			Address: addr,
			Type:    rec.Type,
			Module:  rec.Module,
		}
		var addrs []proc.Address
		if node, ok := cache.names.Find(rec.Name); ok {
			addrs = node.Meta().([]proc.Address)
		}
		cache.names.Add(rec.Name, append(addrs, addr))
	}

	p.exports = cache
	return cache.byAddr, nil
}

// FindExportsByPrefix returns every cached export whose name starts with
// prefix, ordered by name then address. It populates the cache on first
// use but never refreshes it.
func (p *Controller) FindExportsByPrefix(prefix string) ([]proc.Export, error) {
	if _, err := p.EnumerateExportedFunctions(false); err != nil {
		return nil, err
	}

	names := p.exports.names.PrefixSearch(prefix)
	sort.Strings(names)

	var exports []proc.Export
	for _, name := range names {
		node, ok := p.exports.names.Find(name)
		if !ok {
			continue
		}
		addrs := node.Meta().([]proc.Address)
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })
		for _, addr := range addrs {
			exports = append(exports, p.exports.byAddr[addr])
		}
	}
	return exports, nil
}
