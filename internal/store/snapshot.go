package store

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/comerito/cezar/internal/model"
)

// Snapshot versions:
// 1 - initial format: no comment cache, no member list, title-only fingerprints
// 2 - comments + commentsFetchedAt, meta.members, NFC title+body fingerprints
const SnapshotVersion = 2

type document struct {
	Version int                  `json:"version"`
	Meta    model.CollectionMeta `json:"meta"`
	Issues  []*model.Issue       `json:"issues"`
}

func encodeSnapshot(meta model.CollectionMeta, issues map[int]*model.Issue) ([]byte, error) {
	doc := document{
		Version: SnapshotVersion,
		Meta:    meta,
		Issues:  make([]*model.Issue, 0, len(issues)),
	}
	if doc.Meta.Members == nil {
		doc.Meta.Members = []string{}
	}
	for _, is := range issues {
		doc.Issues = append(doc.Issues, is)
	}
	sort.Slice(doc.Issues, func(i, j int) bool { return doc.Issues[i].Number < doc.Issues[j].Number })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "store: encode snapshot")
	}
	return append(data, '\n'), nil
}

// decodeSnapshot validates the top-level shape, decodes the typed document,
// and fills defaults for fields that older versions did not carry.
func decodeSnapshot(data []byte) (model.CollectionMeta, map[int]*model.Issue, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil || top == nil {
		return model.CollectionMeta{}, nil, eris.Wrap(ErrCorruptStore, "store: snapshot is not a JSON object")
	}
	for _, key := range []struct {
		name  string
		delim byte
	}{{"version", 0}, {"meta", '{'}, {"issues", '['}} {
		raw, ok := top[key.name]
		if !ok {
			return model.CollectionMeta{}, nil, eris.Wrapf(ErrCorruptStore, "store: snapshot missing %q", key.name)
		}
		raw = bytes.TrimSpace(raw)
		if key.delim != 0 && (len(raw) == 0 || raw[0] != key.delim) {
			return model.CollectionMeta{}, nil, eris.Wrapf(ErrCorruptStore, "store: snapshot field %q has the wrong shape", key.name)
		}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return model.CollectionMeta{}, nil, eris.Wrapf(ErrCorruptStore, "store: decode snapshot: %v", err)
	}
	if doc.Version < 1 || doc.Version > SnapshotVersion {
		return model.CollectionMeta{}, nil, eris.Wrapf(ErrCorruptStore, "store: unsupported snapshot version %d", doc.Version)
	}

	if doc.Meta.Members == nil {
		doc.Meta.Members = []string{}
	}

	issues := make(map[int]*model.Issue, len(doc.Issues))
	for i, is := range doc.Issues {
		if is == nil {
			return model.CollectionMeta{}, nil, eris.Wrapf(ErrCorruptStore, "store: issue at index %d is null", i)
		}
		if is.Number <= 0 {
			return model.CollectionMeta{}, nil, eris.Wrapf(ErrCorruptStore, "store: issue at index %d has invalid number %d", i, is.Number)
		}
		if _, dup := issues[is.Number]; dup {
			return model.CollectionMeta{}, nil, eris.Wrapf(ErrCorruptStore, "store: duplicate issue #%d", is.Number)
		}
		fillDefaults(doc.Version, is)
		issues[is.Number] = is
	}
	return doc.Meta, issues, nil
}

func fillDefaults(version int, is *model.Issue) {
	if is.State == "" {
		is.State = model.StateOpen
	}
	if is.Analysis == nil {
		is.Analysis = make(map[model.FacetName]model.Facet)
	}

	want := is.Fingerprint()
	switch {
	case version < 2 || is.ContentHash == "":
		// Older fingerprints used a different scheme; the content itself
		// is unchanged so derived state stays valid.
		is.ContentHash = want
	case is.ContentHash != want:
		zap.L().Warn("store: fingerprint mismatch on load, dropping derived state",
			zap.Int("issue", is.Number),
		)
		is.ContentHash = want
		invalidate(is)
	}
}
