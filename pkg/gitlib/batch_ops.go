package gitlib

// BatchOps provides batched blob load and diff operations over a
// Repository using libgit2's ordinary (non-streaming) lookup APIs.
// Requests within a batch are processed sequentially; batching exists at
// the call-site level (Worker, BatchProcessor) to amortize channel and
// goroutine scheduling overhead, not libgit2 call overhead.
type BatchOps struct {
	repo *Repository
}

// NewBatchOps creates a BatchOps bound to the given repository.
func NewBatchOps(repo *Repository) *BatchOps {
	return &BatchOps{repo: repo}
}

// BlobResult represents the result of loading a single blob.
type BlobResult struct {
	Hash      Hash
	Data      []byte
	Size      int64
	IsBinary  bool
	LineCount int
	Error     error
}

// DiffOpType represents the type of diff operation.
type DiffOpType int

// Diff operation types.
const (
	DiffOpEqual  DiffOpType = 0
	DiffOpInsert DiffOpType = 1
	DiffOpDelete DiffOpType = 2
)

// DiffOp represents a single diff operation.
type DiffOp struct {
	Type      DiffOpType
	LineCount int
}

// DiffResult represents the result of diffing two blobs.
type DiffResult struct {
	OldLines int
	NewLines int
	Ops      []DiffOp
	Error    error
}

// DiffRequest represents a request to diff two blobs.
type DiffRequest struct {
	OldHash Hash
	NewHash Hash
	OldData []byte
	NewData []byte
	HasOld  bool
	HasNew  bool
}

// Batch operation errors.
type opError string

func (e opError) Error() string { return string(e) }

var (
	ErrRepositoryPointer = opError("failed to get repository pointer")
	ErrBlobLookup        = opError("blob lookup failed")
	ErrBlobMemory        = opError("memory allocation failed for blob")
	ErrBlobBinary        = opError("blob is binary")
	ErrDiffLookup        = opError("diff blob lookup failed")
	ErrDiffMemory        = opError("memory allocation failed for diff")
	ErrDiffBinary        = opError("diff blob is binary")
	ErrDiffCompute       = opError("diff computation failed")
)

// BatchLoadBlobs loads multiple blobs sequentially via the repository's
// object database, returning a per-hash result slice aligned with hashes.
func (o *BatchOps) BatchLoadBlobs(hashes []Hash) []BlobResult {
	if len(hashes) == 0 {
		return nil
	}

	results := make([]BlobResult, len(hashes))

	for i, h := range hashes {
		results[i].Hash = h

		blob, err := o.repo.LookupBlob(h)
		if err != nil {
			results[i].Error = ErrBlobLookup

			continue
		}

		data := blob.Contents()
		results[i].Size = blob.Size()
		results[i].IsBinary = looksBinary(data)
		results[i].LineCount = countLines(data)

		if len(data) > 0 {
			cloned := make([]byte, len(data))
			copy(cloned, data)
			results[i].Data = cloned
		}

		blob.Free()
	}

	return results
}

// BatchDiffBlobs computes line-level diffs for multiple blob pairs
// sequentially with libgit2's native blob diff. A side marked absent
// (HasOld/HasNew false) is diffed as empty; a side whose blob lookup fails
// sets ErrDiffLookup on that request's result.
func (o *BatchOps) BatchDiffBlobs(requests []DiffRequest) []DiffResult {
	if len(requests) == 0 {
		return nil
	}

	results := make([]DiffResult, len(requests))

	for i, req := range requests {
		var oldBlob, newBlob *Blob

		if req.HasOld {
			b, err := o.repo.LookupBlob(req.OldHash)
			if err != nil {
				results[i].Error = ErrDiffLookup

				continue
			}

			defer b.Free()

			oldBlob = b
		}

		if req.HasNew {
			b, err := o.repo.LookupBlob(req.NewHash)
			if err != nil {
				results[i].Error = ErrDiffLookup

				continue
			}

			defer b.Free()

			newBlob = b
		}

		lineDiff, err := DiffBlobs(oldBlob, newBlob, "old", "new")
		if err != nil {
			results[i].Error = ErrDiffCompute

			continue
		}

		ops := make([]DiffOp, len(lineDiff.Diffs))
		for j, d := range lineDiff.Diffs {
			ops[j] = DiffOp{Type: DiffOpType(d.Type), LineCount: d.LineCount}
		}

		results[i].OldLines = lineDiff.OldLines
		results[i].NewLines = lineDiff.NewLines
		results[i].Ops = ops
	}

	return results
}

func looksBinary(data []byte) bool {
	sniff := data
	if len(sniff) > binarySniffLength {
		sniff = sniff[:binarySniffLength]
	}

	for _, b := range sniff {
		if b == 0 {
			return true
		}
	}

	return false
}
