package gitlib

import (
	"runtime"
)

// WorkerRequest is the interface for requests handled by the Gitlib Worker.
type WorkerRequest interface {
	isWorkerRequest()
}

// TreeDiffRequest asks for a tree diff for a specific commit hash.
type TreeDiffRequest struct {
	PreviousTree       *Tree // Optimization: Use existing tree if on same worker/repo.
	PreviousCommitHash Hash  // Fallback: Lookup previous tree by hash (safe for pool workers).
	CommitHash         Hash  // Hash of the commit to process.
	Response           chan<- TreeDiffResponse
}

// TreeDiffResponse is the response for a TreeDiffRequest.
type TreeDiffResponse struct {
	Changes     Changes
	CurrentTree *Tree // The tree of the processed commit. Caller must Free this or pass it back.
	Error       error
}

// BlobBatchRequest asks to load a batch of blobs.
type BlobBatchRequest struct {
	Hashes   []Hash
	Response chan<- BlobBatchResponse
}

// BlobBatchResponse is the response for a BlobBatchRequest.
type BlobBatchResponse struct {
	Blobs   []*CachedBlob
	Results []BlobResult
}

// DiffBatchRequest asks to compute diffs for a batch of pairs.
type DiffBatchRequest struct {
	Requests []DiffRequest
	Response chan<- DiffBatchResponse
}

// DiffBatchResponse is the response for a DiffBatchRequest.
type DiffBatchResponse struct {
	Results []DiffResult
}

func (TreeDiffRequest) isWorkerRequest()  {}
func (BlobBatchRequest) isWorkerRequest() {}
func (DiffBatchRequest) isWorkerRequest() {}

// Worker manages exclusive, sequential access to the libgit2 Repository.
// It ensures all CGO calls happen on a single OS thread.
type Worker struct {
	repo     *Repository
	requests <-chan WorkerRequest
	ops      *BatchOps
	done     chan struct{}
}

// NewWorker creates a new Gitlib Worker that consumes from the given channel.
func NewWorker(repo *Repository, requests <-chan WorkerRequest) *Worker {
	return &Worker{
		repo:     repo,
		requests: requests,
		ops:      NewBatchOps(repo),
		done:     make(chan struct{}),
	}
}

// Start runs the worker loop. This MUST be called.
// It locks the goroutine to the OS thread to satisfy libgit2 constraints.
func (w *Worker) Start() {
	go func() {
		runtime.LockOSThread()

		defer runtime.UnlockOSThread()
		defer close(w.done)

		for req := range w.requests {
			w.handle(req)
		}
	}()
}

// Stop waits for the worker to finish.
// Note: The caller must close the requests channel to trigger shutdown.
func (w *Worker) Stop() {
	<-w.done
}

func (w *Worker) handle(req WorkerRequest) {
	switch typedReq := req.(type) {
	case TreeDiffRequest:
		commit, err := w.repo.LookupCommit(typedReq.CommitHash)
		if err != nil {
			typedReq.Response <- TreeDiffResponse{Error: err}

			return
		}
		// We don't need to keep the commit, just the tree.
		// git2go Commit.Tree() returns a new Tree object.
		commitTree, err := commit.Tree()
		// Safe to free commit now as tree is independent object in libgit2.
		commit.Free()

		if err != nil {
			typedReq.Response <- TreeDiffResponse{Error: err}

			return
		}

		var changes Changes

		switch {
		case typedReq.PreviousTree != nil:
			changes, err = TreeDiff(w.repo, typedReq.PreviousTree, commitTree)
		case !typedReq.PreviousCommitHash.IsZero():
			prevCommit, lookupErr := w.repo.LookupCommit(typedReq.PreviousCommitHash)
			if lookupErr != nil {
				typedReq.Response <- TreeDiffResponse{Error: lookupErr}

				return
			}

			prevTree, treeErr := prevCommit.Tree()
			prevCommit.Free()

			if treeErr != nil {
				typedReq.Response <- TreeDiffResponse{Error: treeErr}

				return
			}

			changes, err = TreeDiff(w.repo, prevTree, commitTree)
			prevTree.Free()
		default:
			changes, err = InitialTreeChanges(w.repo, commitTree)
		}

		// We return commitTree so the caller can use it as PreviousTree next time.
		// The caller is responsible for ensuring it's freed eventually (e.g. when dropping it as PreviousTree).
		typedReq.Response <- TreeDiffResponse{
			Changes:     changes,
			CurrentTree: commitTree,
			Error:       err,
		}

	case BlobBatchRequest:
		results := w.ops.BatchLoadBlobs(typedReq.Hashes)

		blobs := make([]*CachedBlob, len(results))

		for i, res := range results {
			if res.Error == nil {
				blobs[i] = &CachedBlob{
					hash:      res.Hash,
					size:      res.Size,
					Data:      res.Data,
					lineCount: res.LineCount,
				}
			}
		}

		typedReq.Response <- BlobBatchResponse{Blobs: blobs, Results: results}

	case DiffBatchRequest:
		results := w.ops.BatchDiffBlobs(typedReq.Requests)
		typedReq.Response <- DiffBatchResponse{Results: results}
	}
}
