package syncer

import (
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/models"
	"github.com/dmitrijs2005/gophvault/internal/remote"
)

// envelope is the MAC input: the tenant plus every record field except the
// MAC itself and the backend-assigned sequence.
type envelope struct {
	Tenant string        `json:"tenant"`
	Record remote.Record `json:"record"`
}

func canonical(tenantID string, r remote.Record) ([]byte, error) {
	r.MAC, r.Seq = nil, 0
	return json.Marshal(envelope{Tenant: tenantID, Record: r})
}

// seal converts local records to their wire form and signs each one.
func seal(tenantID string, key *cryptox.Key, recs []models.SecretRecord) ([]remote.Record, error) {
	out := make([]remote.Record, 0, len(recs))
	for i := range recs {
		w := remote.FromModel(&recs[i])
		msg, err := canonical(tenantID, w)
		if err != nil {
			return nil, err
		}
		w.MAC = cryptox.MAC(key, msg)
		out = append(out, w)
	}
	return out, nil
}

// open verifies a whole batch before anything is applied. One bad record
// rejects the batch.
func open(tenantID string, key *cryptox.Key, recs []remote.Record) ([]*models.SecretRecord, error) {
	out := make([]*models.SecretRecord, 0, len(recs))
	for i := range recs {
		r := &recs[i]
		if err := wellFormed(r); err != nil {
			return nil, fmt.Errorf("%w: record %s: %v", common.ErrSyncCorruption, r.ID(), err)
		}
		msg, err := canonical(tenantID, *r)
		if err != nil {
			return nil, fmt.Errorf("%w: record %s: %v", common.ErrSyncCorruption, r.ID(), err)
		}
		if !cryptox.VerifyMAC(key, msg, r.MAC) {
			return nil, fmt.Errorf("%w: record %s: mac mismatch", common.ErrSyncCorruption, r.ID())
		}
		out = append(out, r.ToModel(tenantID))
	}
	return out, nil
}

func wellFormed(r *remote.Record) error {
	switch {
	case r.Namespace == "" || r.Key == "":
		return fmt.Errorf("missing namespace or key")
	case r.Version < 1:
		return fmt.Errorf("bad version %d", r.Version)
	case len(r.Clock) == 0:
		return fmt.Errorf("missing clock")
	case len(r.MAC) == 0:
		return fmt.Errorf("missing mac")
	}
	if _, err := cryptox.ParseAlgorithm(string(r.Algorithm)); err != nil {
		return err
	}
	return nil
}
