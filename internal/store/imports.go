package store

import (
	"context"
	"fmt"
	"strings"
)

// Importable asset types accepted by the bulk endpoint. "domain" is accepted
// as an alias of subdomain.
const (
	ImportSubdomain = "subdomain"
	ImportDomain    = "domain"
	ImportIP        = "ip"
	ImportURL       = "url"
)

// ImportItem is one entry of a bulk import request.
type ImportItem struct {
	AssetType string `json:"asset_type"`
	Value     string `json:"value"`
}

// ImportResult summarizes a bulk import. NewAssets lists the items that were
// actually inserted so the caller can build the batch's asset_created event.
type ImportResult struct {
	Inserted  int          `json:"inserted"`
	Skipped   int          `json:"skipped"`
	Total     int          `json:"total"`
	NewAssets []ImportItem `json:"-"`
}

// BulkImportAssets records raw asset entities and fans each new one out into
// its typed table. Items are deduplicated by (asset_type, value) within the
// batch; entities already on file count as skipped.
func (s *Store) BulkImportAssets(ctx context.Context, projectID, source string, items []ImportItem) (*ImportResult, error) {
	res := &ImportResult{Total: len(items)}
	seen := map[string]bool{}
	for _, item := range items {
		value := strings.TrimSpace(item.Value)
		if value == "" {
			res.Skipped++
			continue
		}
		assetType := item.AssetType
		if assetType == ImportDomain {
			assetType = ImportSubdomain
		}
		switch assetType {
		case ImportSubdomain, ImportIP, ImportURL:
		default:
			return nil, fmt.Errorf("unsupported asset_type %q", item.AssetType)
		}
		key := assetType + "\x00" + value
		if seen[key] {
			res.Skipped++
			continue
		}
		seen[key] = true

		_, inserted, err := s.UpsertAssetEntity(ctx, projectID, assetType, value, source)
		if err != nil {
			return nil, err
		}
		if !inserted {
			res.Skipped++
			continue
		}
		res.Inserted++
		res.NewAssets = append(res.NewAssets, ImportItem{AssetType: assetType, Value: value})

		switch assetType {
		case ImportSubdomain:
			_, err = s.UpsertSubdomain(ctx, projectID, strings.ToLower(value), source, nil)
		case ImportIP:
			_, err = s.UpsertIPAddress(ctx, projectID, value, source)
		case ImportURL:
			_, err = s.UpsertWebAsset(ctx, projectID, value, WebAssetUpdate{Source: source})
		}
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}
