package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Stores are persistent values: Merge never mutates the receiver, it returns a
// new store. A store handed to a task is therefore a read-only snapshot.
//
// Merge is commutative and associative. Identical duplicates are no-ops. When two
// entries share a key but differ in content, the entry with the lowest canonical
// fingerprint is kept and the key is recorded as conflicted, so the outcome does
// not depend on arrival order.

// EvidenceStore is the append-only, criterion-indexed mapping from evidence ID to Evidence.
type EvidenceStore struct {
	items     map[string]Evidence
	conflicts map[string]bool
}

// NewEvidenceStore builds a store from the given items.
func NewEvidenceStore(items ...Evidence) *EvidenceStore {
	return (&EvidenceStore{}).Merge(items...)
}

// Merge returns a new store containing the receiver's entries plus items.
func (s *EvidenceStore) Merge(items ...Evidence) *EvidenceStore {
	next := s.clone(len(items))
	for _, item := range items {
		next.add(item.normalized())
	}
	return next
}

// MergeStore returns a new store holding the union of both stores.
func (s *EvidenceStore) MergeStore(other *EvidenceStore) *EvidenceStore {
	if other == nil {
		return s.clone(0)
	}
	next := s.clone(len(other.items))
	for _, item := range other.items {
		next.add(item)
	}
	for key := range other.conflicts {
		next.conflicts[key] = true
	}
	return next
}

func (s *EvidenceStore) clone(extra int) *EvidenceStore {
	next := &EvidenceStore{
		items:     make(map[string]Evidence, s.Len()+extra),
		conflicts: make(map[string]bool),
	}
	if s == nil {
		return next
	}
	for id, item := range s.items {
		next.items[id] = item
	}
	for key := range s.conflicts {
		next.conflicts[key] = true
	}
	return next
}

func (s *EvidenceStore) add(item Evidence) {
	existing, ok := s.items[item.ID]
	if !ok {
		s.items[item.ID] = item
		return
	}
	a, b := fingerprintOf(existing), fingerprintOf(item)
	if a == b {
		return
	}
	s.conflicts[item.ID] = true
	if b < a {
		s.items[item.ID] = item
	}
}

// Get returns the evidence with the given ID.
func (s *EvidenceStore) Get(id string) (Evidence, bool) {
	if s == nil {
		return Evidence{}, false
	}
	item, ok := s.items[id]
	return item, ok
}

// Has reports whether an evidence ID is present.
func (s *EvidenceStore) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Len returns the number of entries.
func (s *EvidenceStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// All returns every entry ordered by ID.
func (s *EvidenceStore) All() []Evidence {
	if s == nil {
		return nil
	}
	out := make([]Evidence, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ForCriterion returns the entries for one criterion ordered by ID.
func (s *EvidenceStore) ForCriterion(criterionID string) []Evidence {
	var out []Evidence
	for _, item := range s.All() {
		if item.Criterion == criterionID {
			out = append(out, item)
		}
	}
	return out
}

// Criteria returns the IDs of every criterion with at least one entry, sorted.
func (s *EvidenceStore) Criteria() []string {
	seen := make(map[string]bool)
	var out []string
	for _, item := range s.All() {
		if !seen[item.Criterion] {
			seen[item.Criterion] = true
			out = append(out, item.Criterion)
		}
	}
	sort.Strings(out)
	return out
}

// Conflicts returns the IDs that received conflicting entries, sorted.
func (s *EvidenceStore) Conflicts() []string {
	if s == nil {
		return nil
	}
	return sortedKeys(s.conflicts)
}

// Fingerprint returns a digest of the canonical store contents. Two stores with
// equal fingerprints hold byte-identical data.
func (s *EvidenceStore) Fingerprint() string {
	return fingerprintOf(struct {
		Items     []Evidence `json:"items"`
		Conflicts []string   `json:"conflicts"`
	}{s.All(), s.Conflicts()})
}

// OpinionStore is the append-only collection of opinions keyed by criterion and role.
type OpinionStore struct {
	items     map[OpinionKey]Opinion
	conflicts map[string]bool
}

// NewOpinionStore builds a store from the given items.
func NewOpinionStore(items ...Opinion) *OpinionStore {
	return (&OpinionStore{}).Merge(items...)
}

// Merge returns a new store containing the receiver's entries plus items.
func (s *OpinionStore) Merge(items ...Opinion) *OpinionStore {
	next := s.clone(len(items))
	for _, item := range items {
		next.add(item.normalized())
	}
	return next
}

// MergeStore returns a new store holding the union of both stores.
func (s *OpinionStore) MergeStore(other *OpinionStore) *OpinionStore {
	if other == nil {
		return s.clone(0)
	}
	next := s.clone(len(other.items))
	for _, item := range other.items {
		next.add(item)
	}
	for key := range other.conflicts {
		next.conflicts[key] = true
	}
	return next
}

func (s *OpinionStore) clone(extra int) *OpinionStore {
	next := &OpinionStore{
		items:     make(map[OpinionKey]Opinion, s.Len()+extra),
		conflicts: make(map[string]bool),
	}
	if s == nil {
		return next
	}
	for key, item := range s.items {
		next.items[key] = item
	}
	for key := range s.conflicts {
		next.conflicts[key] = true
	}
	return next
}

func (s *OpinionStore) add(item Opinion) {
	key := item.Key()
	existing, ok := s.items[key]
	if !ok {
		s.items[key] = item
		return
	}
	a, b := fingerprintOf(existing), fingerprintOf(item)
	if a == b {
		return
	}
	s.conflicts[key.String()] = true
	if b < a {
		s.items[key] = item
	}
}

// Get returns the opinion for a criterion and role.
func (s *OpinionStore) Get(criterionID string, role Role) (Opinion, bool) {
	if s == nil {
		return Opinion{}, false
	}
	item, ok := s.items[OpinionKey{Criterion: criterionID, Role: role}]
	return item, ok
}

// Len returns the number of entries.
func (s *OpinionStore) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// All returns every opinion ordered by criterion then role.
func (s *OpinionStore) All() []Opinion {
	if s == nil {
		return nil
	}
	out := make([]Opinion, 0, len(s.items))
	for _, item := range s.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Criterion != out[j].Criterion {
			return out[i].Criterion < out[j].Criterion
		}
		return out[i].Role < out[j].Role
	})
	return out
}

// ForCriterion returns the opinions for one criterion ordered by role.
func (s *OpinionStore) ForCriterion(criterionID string) []Opinion {
	var out []Opinion
	for _, item := range s.All() {
		if item.Criterion == criterionID {
			out = append(out, item)
		}
	}
	return out
}

// Conflicts returns the "criterion/role" keys that received conflicting opinions, sorted.
func (s *OpinionStore) Conflicts() []string {
	if s == nil {
		return nil
	}
	return sortedKeys(s.conflicts)
}

// Fingerprint returns a digest of the canonical store contents.
func (s *OpinionStore) Fingerprint() string {
	return fingerprintOf(struct {
		Items     []Opinion `json:"items"`
		Conflicts []string  `json:"conflicts"`
	}{s.All(), s.Conflicts()})
}

func fingerprintOf(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// NaN confidences are the only way to get here.
		data = []byte(fmt.Sprintf("%#v", v))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func sortedKeys(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for key := range m {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
