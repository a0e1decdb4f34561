package vault

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/velthium/vestalia-network/pkg/models"
)

// OwnerCandidates returns the identities whose trees may hold the vault,
// delegated identities first, without duplicates or empty values.
func OwnerCandidates(ctx context.Context, h Handler) []string {
	var raw []string
	if d, ok := h.(DelegatedAddressProvider); ok {
		if addrs, err := d.DelegatedAddresses(ctx); err == nil {
			raw = append(raw, addrs...)
		}
	}
	if p, ok := h.(AddressProvider); ok {
		if addr, err := p.Address(ctx); err == nil {
			raw = append(raw, addr)
		}
	}
	return dedupe(raw)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ListDirectory lists path with whatever read capability h offers. It
// never fails: when nothing can be read the result is empty.
func (a *Adapter) ListDirectory(ctx context.Context, h Handler, path string, owners ...string) []models.Entry {
	path = NormalizePath(path)
	log := a.logger(ctx).With(zap.String("path", path))

	if len(owners) == 0 {
		owners = OwnerCandidates(ctx, h)
	} else {
		owners = dedupe(owners)
	}

	if r, ok := h.(DirectoryReader); ok {
		for _, owner := range owners {
			res, err := r.ReadDirectoryContents(ctx, path, models.ReadOptions{Owner: owner, Refresh: true})
			if err != nil {
				log.Debug("owner read failed", zap.String("owner", owner), zap.Error(err))
				continue
			}
			if hasEntries(res) {
				return Normalize(res)
			}
		}
		res, err := r.ReadDirectoryContents(ctx, path, models.ReadOptions{})
		if err == nil {
			if entries := Normalize(res); len(entries) > 0 {
				return entries
			}
		} else {
			log.Debug("directory read failed", zap.Error(err))
		}
	}

	if l, ok := h.(DirectoryLoader); ok {
		if err := l.LoadDirectory(ctx, path); err != nil {
			log.Debug("directory load failed", zap.Error(err))
			return []models.Entry{}
		}
		if c, ok := h.(ChildrenReader); ok {
			return Normalize(c.Children())
		}
	}
	return []models.Entry{}
}

func hasEntries(res any) bool {
	switch v := res.(type) {
	case *models.DirectoryMap:
		return v != nil && (len(v.Folders) > 0 || len(v.Files) > 0)
	case models.DirectoryMap:
		return len(v.Folders) > 0 || len(v.Files) > 0
	case []models.Entry:
		return len(v) > 0
	case *models.ChildList:
		return v != nil && len(v.Children) > 0
	case models.ChildList:
		return len(v.Children) > 0
	}
	return false
}

// Normalize converts any supported listing shape into entries. Unknown
// shapes yield an empty slice.
func Normalize(res any) []models.Entry {
	switch v := res.(type) {
	case *models.DirectoryMap:
		if v == nil {
			return []models.Entry{}
		}
		return normalizeMap(*v)
	case models.DirectoryMap:
		return normalizeMap(v)
	case []models.Entry:
		return passThrough(v)
	case *models.ChildList:
		if v == nil {
			return []models.Entry{}
		}
		return passThrough(v.Children)
	case models.ChildList:
		return passThrough(v.Children)
	}
	return []models.Entry{}
}

func passThrough(in []models.Entry) []models.Entry {
	out := make([]models.Entry, len(in))
	copy(out, in)
	for i := range out {
		if out[i].IsDir || out[i].Size < 0 {
			out[i].Size = 0
		}
	}
	return out
}

func normalizeMap(m models.DirectoryMap) []models.Entry {
	out := make([]models.Entry, 0, len(m.Folders)+len(m.Files))

	folderKeys := sortedKeys(m.Folders)
	for _, key := range folderKeys {
		meta := m.Folders[key]
		name := meta.DisplayName()
		if name == "" {
			name = key
		}
		f := meta
		out = append(out, models.Entry{
			Name:  name,
			IsDir: true,
			Raw:   &models.Raw{ULID: meta.ULID, Ref: meta.Ref, Folder: &f},
		})
	}

	fileKeys := sortedKeys(m.Files)
	for _, key := range fileKeys {
		rec := m.Files[key]
		name, size := rec.Name, rec.Size
		raw := &models.Raw{Share: rec.Share}
		if rec.Meta != nil {
			meta := *rec.Meta
			if meta.Name != "" {
				name = meta.Name
			}
			if meta.Size != 0 {
				size = meta.Size
			}
			raw.File = &meta
			raw.ULID = meta.ULID
			raw.Ref = meta.Ref
			if meta.Merkle != "" {
				raw.Content = &models.ContentAddress{Merkle: meta.Merkle, Start: meta.Start, Creator: meta.Owner}
			}
		}
		if name == "" {
			name = key
		}
		if size < 0 {
			size = 0
		}
		out = append(out, models.Entry{Name: name, Size: size, Raw: raw})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
