package storage

import (
	"encoding/json"

	logx "autoroll/pkg/logx"
)

// mergeRecords computes the union of persisted users and in-memory runs.
// For each (user, kind) the in-memory run wins; persisted-only sub-records are
// kept as-is. Empty users are dropped.
func mergeRecords(existing map[string]Record, standard, event map[string]RunRecord) map[string]Record {
	out := make(map[string]Record, len(existing)+len(standard)+len(event))
	for id, rec := range existing {
		out[id] = rec
	}
	apply := func(k Kind, runs map[string]RunRecord) {
		for id, run := range runs {
			rec := out[id]
			cp := run.Clone()
			rec.Set(k, &cp)
			out[id] = rec
		}
	}
	apply(KindStandard, standard)
	apply(KindEvent, event)

	for id, rec := range out {
		if rec.Empty() {
			delete(out, id)
		}
	}
	return out
}

// decodeDocument parses a whole checkpoint document. Entries that are not
// objects, and sub-records that fail validation, are dropped and logged.
func decodeDocument(b []byte, log logx.Logger) (map[string]Record, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(b, &top); err != nil {
		return nil, err
	}
	out := make(map[string]Record, len(top))
	for id, raw := range top {
		var parts map[string]json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			log.Warn("checkpoint entry dropped", logx.String("user", id), logx.Err(err))
			continue
		}
		var rec Record
		for _, k := range Kinds {
			sub, err := decodeRunRecord(parts[string(k)])
			if err != nil {
				log.Warn("checkpoint sub-record dropped", logx.String("user", id), logx.String("kind", string(k)), logx.Err(err))
				continue
			}
			rec.Set(k, sub)
		}
		if !rec.Empty() {
			out[id] = rec
		}
	}
	return out, nil
}
