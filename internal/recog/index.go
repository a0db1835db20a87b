// Package recog implements the per-tenant in-memory recognition index
// (C4): a row-major contiguous embedding matrix per tenant, guarded by a
// reader/writer lock, with cosine-similarity scoring and deterministic
// face_id tie-breaking. Grounded directly on spec.md §4.4's data-model
// invariants; no pack repo implements a comparable index, so row storage
// and locking follow the teacher's "owned struct with explicit per-tenant
// lock, no globals" re-architecture note (§9) rather than any single
// source file.
package recog

import (
	"math"
	"sort"
	"sync"

	"github.com/facehive/facehive/internal/apierr"
)

// FaceEntry locates a face's row in the tenant's vector matrix.
type FaceEntry struct {
	UserID string
	Row    int
}

// UserEntry tracks which faces belong to a user.
type UserEntry struct {
	FaceIDs map[string]bool
}

// TenantIndex is the per-tenant recognition state. Dim is fixed on first
// insert and enforced thereafter.
type TenantIndex struct {
	mu sync.RWMutex

	dim int

	users map[string]*UserEntry
	faces map[string]FaceEntry // face_id -> entry
	rows  []string             // row index -> face_id, parallel to vectors
	vectors []float32          // row-major, len == len(rows)*dim
}

func newTenantIndex() *TenantIndex {
	return &TenantIndex{
		users: make(map[string]*UserEntry),
		faces: make(map[string]FaceEntry),
	}
}

// Index owns one TenantIndex per tenant. The top-level map is guarded
// separately from each tenant's data so that concurrent operations on
// different tenants never contend.
type Index struct {
	mu      sync.RWMutex
	tenants map[string]*TenantIndex
}

// New creates an empty Index.
func New() *Index {
	return &Index{tenants: make(map[string]*TenantIndex)}
}

// CreateTenant registers an empty tenant. Idempotent: creating an
// already-present tenant is a no-op success, matching R1's
// create;delete;create round trip.
func (idx *Index) CreateTenant(tenantID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if _, ok := idx.tenants[tenantID]; !ok {
		idx.tenants[tenantID] = newTenantIndex()
	}
}

// DeleteTenant removes a tenant and all of its data.
func (idx *Index) DeleteTenant(tenantID string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.tenants, tenantID)
}

func (idx *Index) tenant(tenantID string) (*TenantIndex, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.tenants[tenantID]
	return t, ok
}

// AddFace inserts a face with its embedding under user_id, creating the
// user entry if needed. Returns Conflict if face_id already exists in this
// tenant, InvalidInput if the embedding is empty, dimension-mismatched
// against previously stored vectors, or fails validateEmbedding (I3: every
// component finite, norm > epsilon).
func (idx *Index) AddFace(tenantID, userID, faceID string, embedding []float32) error {
	idx.mu.Lock()
	t, ok := idx.tenants[tenantID]
	if !ok {
		t = newTenantIndex()
		idx.tenants[tenantID] = t
	}
	idx.mu.Unlock()

	if len(embedding) == 0 {
		return apierr.New(apierr.InvalidInput, "embedding must not be empty")
	}
	if err := validateEmbedding(embedding); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.faces[faceID]; exists {
		return apierr.New(apierr.Conflict, "face_id %s already exists in tenant %s", faceID, tenantID)
	}
	if t.dim == 0 {
		t.dim = len(embedding)
	} else if t.dim != len(embedding) {
		return apierr.New(apierr.InvalidInput, "embedding dimension %d does not match tenant dimension %d", len(embedding), t.dim)
	}

	row := len(t.rows)
	t.rows = append(t.rows, faceID)
	t.vectors = append(t.vectors, embedding...)
	t.faces[faceID] = FaceEntry{UserID: userID, Row: row}

	u, ok := t.users[userID]
	if !ok {
		u = &UserEntry{FaceIDs: make(map[string]bool)}
		t.users[userID] = u
	}
	u.FaceIDs[faceID] = true
	return nil
}

// DeleteFace removes a face, compacting the vector matrix so there are no
// tombstones. The last row is moved into the deleted row's slot (a
// constant-time removal); remaining row ordering among other faces is not
// otherwise guaranteed, but Recognize's result is still deterministic
// because ties are broken by face_id value, not row position.
func (idx *Index) DeleteFace(tenantID, userID, faceID string) error {
	t, ok := idx.tenant(tenantID)
	if !ok {
		return apierr.New(apierr.NotFound, "tenant %s not found", tenantID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.faces[faceID]
	if !ok {
		return apierr.New(apierr.NotFound, "face_id %s not found in tenant %s", faceID, tenantID)
	}
	if entry.UserID != userID {
		return apierr.New(apierr.NotFound, "face_id %s does not belong to user %s", faceID, userID)
	}

	t.compactDelete(entry.Row)
	delete(t.faces, faceID)

	if u, ok := t.users[userID]; ok {
		delete(u.FaceIDs, faceID)
		if len(u.FaceIDs) == 0 {
			delete(t.users, userID)
		}
	}
	return nil
}

// compactDelete removes row from the matrix by swapping the last row into
// its place and truncating, then fixes up the face entry for whichever
// face_id now occupies that row. Must be called with t.mu held.
func (t *TenantIndex) compactDelete(row int) {
	lastRow := len(t.rows) - 1
	if row != lastRow {
		copy(t.vectors[row*t.dim:(row+1)*t.dim], t.vectors[lastRow*t.dim:(lastRow+1)*t.dim])
		movedFaceID := t.rows[lastRow]
		t.rows[row] = movedFaceID
		moved := t.faces[movedFaceID]
		moved.Row = row
		t.faces[movedFaceID] = moved
	}
	t.rows = t.rows[:lastRow]
	t.vectors = t.vectors[:lastRow*t.dim]
}

// DeleteUser removes a user and every face it owns.
func (idx *Index) DeleteUser(tenantID, userID string) error {
	t, ok := idx.tenant(tenantID)
	if !ok {
		return apierr.New(apierr.NotFound, "tenant %s not found", tenantID)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[userID]
	if !ok {
		return apierr.New(apierr.NotFound, "user %s not found in tenant %s", userID, tenantID)
	}
	faceIDs := make([]string, 0, len(u.FaceIDs))
	for fid := range u.FaceIDs {
		faceIDs = append(faceIDs, fid)
	}
	sort.Strings(faceIDs)
	for _, fid := range faceIDs {
		entry := t.faces[fid]
		t.compactDelete(entry.Row)
		delete(t.faces, fid)
	}
	delete(t.users, userID)
	return nil
}

// GetUserFaces returns the sorted face_ids owned by a user.
func (idx *Index) GetUserFaces(tenantID, userID string) ([]string, error) {
	t, ok := idx.tenant(tenantID)
	if !ok {
		return nil, apierr.New(apierr.NotFound, "tenant %s not found", tenantID)
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.users[userID]
	if !ok {
		return nil, apierr.New(apierr.NotFound, "user %s not found in tenant %s", userID, tenantID)
	}
	faceIDs := make([]string, 0, len(u.FaceIDs))
	for fid := range u.FaceIDs {
		faceIDs = append(faceIDs, fid)
	}
	sort.Strings(faceIDs)
	return faceIDs, nil
}

// Match is the result of Recognize.
type Match struct {
	UserID     string // empty when no match clears the threshold
	FaceID     string
	Confidence float32
}

// Recognize finds the face in tenantID whose cosine similarity with
// embedding is highest, reporting a match only if it meets threshold.
// Ties are broken by the lexicographically smallest face_id (P3):
// recognize is stable under row reorderings because the comparison never
// depends on row position, only on face_id value.
func (idx *Index) Recognize(tenantID string, embedding []float32, threshold float32) (Match, error) {
	t, ok := idx.tenant(tenantID)
	if !ok {
		return Match{}, nil // absent tenant: no match, not an error (scenario 2)
	}
	if len(embedding) == 0 {
		return Match{}, apierr.New(apierr.InvalidInput, "embedding must not be empty")
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.dim != 0 && len(embedding) != t.dim {
		return Match{}, apierr.New(apierr.InvalidInput, "embedding dimension %d does not match tenant dimension %d", len(embedding), t.dim)
	}

	var bestFaceID string
	var bestScore float32 = -2 // below any possible clamped score
	for row, faceID := range t.rows {
		score := cosineSimilarity(t.vectors[row*t.dim:(row+1)*t.dim], embedding)
		if score > bestScore || (score == bestScore && faceID < bestFaceID) {
			bestScore = score
			bestFaceID = faceID
		}
	}

	if bestFaceID == "" || bestScore < threshold {
		return Match{Confidence: clampNonNegative(bestScore)}, nil
	}

	entry := t.faces[bestFaceID]
	return Match{UserID: entry.UserID, FaceID: bestFaceID, Confidence: bestScore}, nil
}

// Stats reports per-tenant counts for get_cache_stats.
type Stats struct {
	Tenants    int
	Users      int
	Faces      int
	Embeddings int
}

// Stats aggregates counts across all tenants.
func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	tenants := make([]*TenantIndex, 0, len(idx.tenants))
	for _, t := range idx.tenants {
		tenants = append(tenants, t)
	}
	s := Stats{Tenants: len(idx.tenants)}
	idx.mu.RUnlock()

	for _, t := range tenants {
		t.mu.RLock()
		s.Users += len(t.users)
		s.Faces += len(t.faces)
		s.Embeddings += len(t.rows)
		t.mu.RUnlock()
	}
	return s
}

// embeddingNormEpsilon is the minimum squared norm an embedding must have
// to be considered non-degenerate (I3).
const embeddingNormEpsilon = 1e-6

// validateEmbedding rejects vectors with a non-finite component or a norm
// too small to carry directional information, surfacing InvalidEmbedding
// (I3) so malformed snapshot vectors (internal/loader) never reach the
// index.
func validateEmbedding(embedding []float32) error {
	var normSq float32
	for _, v := range embedding {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return apierr.New(apierr.InvalidInput, "invalid embedding (InvalidEmbedding): component is NaN or Inf")
		}
		normSq += v * v
	}
	if normSq <= embeddingNormEpsilon {
		return apierr.New(apierr.InvalidInput, "invalid embedding (InvalidEmbedding): norm too small")
	}
	return nil
}

// cosineSimilarity computes (a·b)/(‖a‖·‖b‖) in 32-bit float arithmetic,
// clamped to [0,1]. Vectors are never pre-normalized at rest (spec §4.4),
// so both norms are computed fresh on every comparison.
func cosineSimilarity(a, b []float32) float32 {
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
	return clamp01(sim)
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampNonNegative(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}
