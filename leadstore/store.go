package leadstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"basecamp/types"
)

var (
	bucketLeads  = []byte("leads")
	bucketByTime = []byte("leads_by_time")
)

// ErrNotFound is returned when a lead id is absent from the store.
var ErrNotFound = errors.New("lead not found")

// ErrExists is returned by Save when the id is already present. Leads are
// immutable records; bookkeeping changes go through Update.
var ErrExists = errors.New("lead already exists")

// Store persists leads in a local bbolt database. The vector index remains
// the authority for similarity; this store serves the read API, statistics,
// and export.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) the database at path and ensures the buckets exist.
func New(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open lead store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketLeads, bucketByTime} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// timeKey orders leads newest-last in the by-time bucket. Zero-padded
// nanoseconds keep byte order equal to time order; the id suffix breaks ties.
func timeKey(lead *types.Lead) []byte {
	return []byte(fmt.Sprintf("%020d|%s", lead.ReceivedAt.UTC().UnixNano(), lead.ID))
}

// Save inserts a new lead. An existing id fails with ErrExists.
func (s *Store) Save(lead *types.Lead) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		leads := tx.Bucket(bucketLeads)
		if leads.Get([]byte(lead.ID)) != nil {
			return fmt.Errorf("%w: %s", ErrExists, lead.ID)
		}
		data, err := json.Marshal(lead)
		if err != nil {
			return err
		}
		if err := leads.Put([]byte(lead.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketByTime).Put(timeKey(lead), []byte(lead.ID))
	})
}

// Update overwrites the stored record for an existing lead. The id and
// ReceivedAt must not change; only pipeline bookkeeping does.
func (s *Store) Update(lead *types.Lead) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		leads := tx.Bucket(bucketLeads)
		if leads.Get([]byte(lead.ID)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, lead.ID)
		}
		data, err := json.Marshal(lead)
		if err != nil {
			return err
		}
		return leads.Put([]byte(lead.ID), data)
	})
}

// Get returns the lead with the given id, or ErrNotFound.
func (s *Store) Get(id string) (*types.Lead, error) {
	var lead types.Lead
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketLeads).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &lead)
	})
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// Delete removes a lead and its time-index entry. Deleting an absent id is
// not an error.
func (s *Store) Delete(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		leads := tx.Bucket(bucketLeads)
		data := leads.Get([]byte(id))
		if data == nil {
			return nil
		}
		var lead types.Lead
		if err := json.Unmarshal(data, &lead); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByTime).Delete(timeKey(&lead)); err != nil {
			return err
		}
		return leads.Delete([]byte(id))
	})
}

// ListFilter narrows and pages List results. Zero values mean no filter,
// no offset, and the default limit.
type ListFilter struct {
	Status         types.LeadStatus
	Classification string
	Limit          int
	Offset         int
}

// DefaultListLimit caps unpaged List calls.
const DefaultListLimit = 50

// List returns leads newest first, honoring the filter.
func (s *Store) List(filter ListFilter) ([]*types.Lead, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}

	var leads []*types.Lead
	err := s.db.View(func(tx *bbolt.Tx) error {
		leadBucket := tx.Bucket(bucketLeads)
		cursor := tx.Bucket(bucketByTime).Cursor()

		skipped := 0
		for k, id := cursor.Last(); k != nil; k, id = cursor.Prev() {
			data := leadBucket.Get(id)
			if data == nil {
				continue
			}
			var lead types.Lead
			if err := json.Unmarshal(data, &lead); err != nil {
				return err
			}
			if filter.Status != "" && lead.Status != filter.Status {
				continue
			}
			if filter.Classification != "" && lead.Classification != filter.Classification {
				continue
			}
			if skipped < filter.Offset {
				skipped++
				continue
			}
			leads = append(leads, &lead)
			if len(leads) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leads, nil
}

// Stats summarizes the stored corpus for the dashboard endpoint.
type Stats struct {
	Total            int            `json:"total"`
	ByStatus         map[string]int `json:"by_status"`
	ByClassification map[string]int `json:"by_classification"`
	ByIntent         map[string]int `json:"by_intent"`
}

// Stats walks the full corpus. Acceptable at lead-intake scale; revisit if a
// deployment ever exceeds a few hundred thousand leads.
func (s *Store) Stats() (*Stats, error) {
	stats := &Stats{
		ByStatus:         make(map[string]int),
		ByClassification: make(map[string]int),
		ByIntent:         make(map[string]int),
	}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketLeads).ForEach(func(k, v []byte) error {
			var lead types.Lead
			if err := json.Unmarshal(v, &lead); err != nil {
				return err
			}
			stats.Total++
			if lead.Status != "" {
				stats.ByStatus[string(lead.Status)]++
			}
			if lead.Classification != "" {
				stats.ByClassification[lead.Classification]++
			}
			if lead.Analysis != nil && lead.Analysis.Intent != "" {
				stats.ByIntent[lead.Analysis.Intent]++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// All streams every stored lead newest first, without paging. Used by export.
func (s *Store) All() ([]*types.Lead, error) {
	var leads []*types.Lead
	err := s.db.View(func(tx *bbolt.Tx) error {
		leadBucket := tx.Bucket(bucketLeads)
		cursor := tx.Bucket(bucketByTime).Cursor()
		for k, id := cursor.Last(); k != nil; k, id = cursor.Prev() {
			data := leadBucket.Get(id)
			if data == nil {
				continue
			}
			var lead types.Lead
			if err := json.Unmarshal(data, &lead); err != nil {
				return err
			}
			leads = append(leads, &lead)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leads, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
