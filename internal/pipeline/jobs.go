package pipeline

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docforge/internal/codec"
)

// JobKind names the operation a job runs.
type JobKind string

const (
	KindConvert   JobKind = "convert"
	KindCompare   JobKind = "compare"
	KindMerge     JobKind = "merge"
	KindMailMerge JobKind = "mailmerge"
	KindCleanup   JobKind = "cleanup"
)

// ParseKind validates a job kind name.
func ParseKind(s string) (JobKind, error) {
	switch k := JobKind(s); k {
	case KindConvert, KindCompare, KindMerge, KindMailMerge, KindCleanup:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown job kind %q", ErrBadRequest, s)
}

// JobStatus represents the state of a job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusDecoding   JobStatus = "decoding"
	StatusProcessing JobStatus = "processing"
	StatusEncoding   JobStatus = "encoding"
	StatusStoring    JobStatus = "storing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Done reports whether the job has stopped.
func (s JobStatus) Done() bool { return s == StatusCompleted || s == StatusFailed }

// Job tracks the state of a single document operation. Each job owns
// its documents, so a document is only touched by the worker running
// the job.
type Job struct {
	mu sync.Mutex

	ID     string    `json:"job_id"`
	Kind   JobKind   `json:"kind"`
	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Progress Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	request *Request
	result  *Result
	err     error
	errors  []string
}

// Progress tracks processing progress.
type Progress struct {
	Inputs         int      `json:"inputs"`
	InputsDecoded  int      `json:"inputs_decoded"`
	EncodeFraction float64  `json:"encode_fraction"`
	UploadAttempts int      `json:"upload_attempts"`
	Errors         []string `json:"errors"`
}

// Result is a finished job's output.
type Result struct {
	Data        []byte
	Format      codec.Format
	Filename    string
	Checksum    string
	ArtifactKey string
	// Report carries operation details, such as the cleanup counts.
	Report any
}

// ContentType returns the MIME type of the output.
func (r *Result) ContentType() string { return r.Format.ContentType() }

// NewJob creates a queued job for req.
func NewJob(req *Request) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Status:    StatusQueued,
		Phase:     "queued",
		Progress:  Progress{Inputs: len(req.Inputs)},
		CreatedAt: now,
		UpdatedAt: now,
		request:   req,
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Delete forgets a job.
func (s *JobStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes finished jobs not updated within the TTL.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		expired := job.Status.Done() && now.Sub(job.UpdatedAt) > s.ttl
		job.mu.Unlock()
		if expired {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// Fail records err and marks the job failed in phase.
func (j *Job) Fail(phase string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.err = err
	j.errors = append(j.errors, err.Error())
	j.Progress.Errors = j.errors
	j.Status = StatusFailed
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// Err returns the error that failed the job, if any.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// IncrInputsDecoded atomically increments decoded inputs.
func (j *Job) IncrInputsDecoded() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.InputsDecoded++
	j.UpdatedAt = time.Now()
}

// SetEncodeFraction records how far encoding has come.
func (j *Job) SetEncodeFraction(f float64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.EncodeFraction = f
	j.UpdatedAt = time.Now()
}

// IncrUploadAttempts counts an artifact upload attempt.
func (j *Job) IncrUploadAttempts() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress.UploadAttempts++
	j.UpdatedAt = time.Now()
}

// Request returns the job's request.
func (j *Job) Request() *Request {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.request
}

// SetResult stores the job's output and drops the request inputs.
func (j *Job) SetResult(r *Result) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.result = r
	if j.request != nil {
		j.request.Inputs = nil
	}
}

// Result returns the job's output, or nil before it completes.
func (j *Job) Result() *Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result
}

// JobSnapshot is a read-only, JSON-safe copy of job state.
type JobSnapshot struct {
	ID          string    `json:"job_id"`
	Kind        JobKind   `json:"kind"`
	Status      JobStatus `json:"status"`
	Phase       string    `json:"phase"`
	Progress    Progress  `json:"progress"`
	Filename    string    `json:"filename,omitempty"`
	Format      string    `json:"format,omitempty"`
	Size        int       `json:"size,omitempty"`
	Checksum    string    `json:"checksum,omitempty"`
	ArtifactKey string    `json:"artifact_key,omitempty"`
	Report      any       `json:"report,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := j.Progress.Errors
	if errs == nil {
		errs = []string{}
	}
	snap := JobSnapshot{
		ID:     j.ID,
		Kind:   j.Kind,
		Status: j.Status,
		Phase:  j.Phase,
		Progress: Progress{
			Inputs:         j.Progress.Inputs,
			InputsDecoded:  j.Progress.InputsDecoded,
			EncodeFraction: j.Progress.EncodeFraction,
			UploadAttempts: j.Progress.UploadAttempts,
			Errors:         append([]string{}, errs...),
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
	if r := j.result; r != nil {
		snap.Filename = r.Filename
		snap.Format = r.Format.String()
		snap.Size = len(r.Data)
		snap.Checksum = r.Checksum
		snap.ArtifactKey = r.ArtifactKey
		snap.Report = r.Report
	}
	return snap
}

// ContentHashHex computes SHA-256 of content and returns hex string.
func ContentHashHex(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:])
}
