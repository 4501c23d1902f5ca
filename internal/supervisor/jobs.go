package supervisor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robokit-dev/panel/internal/daemon"
)

// JobKind distinguishes install and remove operations.
type JobKind int

const (
	// JobInstall installs an app on the daemon.
	JobInstall JobKind = iota
	// JobRemove removes an installed app.
	JobRemove
)

// String returns the kind's label as it appears in daemon log lines.
func (k JobKind) String() string {
	if k == JobRemove {
		return "remove"
	}

	return "install"
}

// JobState is a job's lifecycle state. Completed and Failed are
// terminal: no further transition occurs.
type JobState int

const (
	// JobRunning means the daemon is still working on the job.
	JobRunning JobState = iota
	// JobCompleted means the job finished successfully.
	JobCompleted
	// JobFailed means the job failed, or polling gave up on it.
	JobFailed
)

// String returns the state's log label.
func (st JobState) String() string {
	switch st {
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	default:
		return "running"
	}
}

// Job is one tracked install/remove operation, keyed by the job ID the
// daemon issued when it accepted the request.
type Job struct {
	ID           string
	Kind         JobKind
	Target       string
	Status       JobState
	Logs         []string
	PollFailures uint

	cancel context.CancelFunc
}

func (j *Job) copyLocked() Job {
	cp := *j
	cp.cancel = nil
	cp.Logs = append([]string(nil), j.Logs...)

	return cp
}

// terminal reports whether the job reached Completed or Failed.
func (j *Job) terminal() bool {
	return j.Status != JobRunning
}

// InstallApp asks the daemon to install an app and tracks the
// resulting job. A request the daemon accepts without a job ID is a
// local error and never enters the tracker.
func (s *Supervisor) InstallApp(ctx context.Context, name, url string) (string, error) {
	jobID, err := s.client.InstallApp(ctx, name, url)
	if err != nil {
		return "", err
	}

	s.trackJob(jobID, JobInstall, name)

	return jobID, nil
}

// RemoveApp asks the daemon to remove an app and tracks the job.
func (s *Supervisor) RemoveApp(ctx context.Context, name string) (string, error) {
	jobID, err := s.client.RemoveApp(ctx, name)
	if err != nil {
		return "", err
	}

	s.trackJob(jobID, JobRemove, name)

	return jobID, nil
}

// Jobs returns a snapshot of the tracked jobs.
func (s *Supervisor) Jobs() []Job {
	return s.Snapshot().Jobs
}

// trackJob registers the job and starts its private poll loop. Each job
// gets its own timer: N jobs mean N independent loops, which keeps
// per-job cancellation trivial.
func (s *Supervisor) trackJob(jobID string, kind JobKind, target string) {
	ctx, cancel := context.WithCancel(context.Background())

	job := &Job{
		ID:     jobID,
		Kind:   kind,
		Target: target,
		Status: JobRunning,
		cancel: cancel,
	}

	s.mu.Lock()
	s.jobs[jobID] = job
	s.mu.Unlock()

	s.logger.Info("job started", "job_id", jobID, "kind", kind.String(), "target", target)
	s.bus.Publish(TopicJobStarted, fmt.Sprintf("%s %s (%s)", kind, target, jobID))

	go s.pollJobLoop(ctx, jobID)
}

func (s *Supervisor) pollJobLoop(ctx context.Context, jobID string) {
	ticker := time.NewTicker(s.opts.JobPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// The job may have been removed while this tick was pending;
		// stopJobPolling races with in-flight network calls, so every
		// tick re-checks registration before doing any work.
		if !s.jobRegistered(jobID) {
			return
		}

		if !s.pollJobOnce(ctx, jobID) {
			return
		}
	}
}

func (s *Supervisor) jobRegistered(jobID string) bool {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()

	return ok && !job.terminal()
}

// pollJobOnce performs one status poll. Returns false when the loop
// must stop (job terminal or unregistered).
func (s *Supervisor) pollJobOnce(ctx context.Context, jobID string) bool {
	status, err := s.client.GetJobStatus(ctx, jobID)
	if err != nil {
		return s.recordJobPollFailure(jobID, err)
	}

	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok || job.terminal() {
		// Removed or finished while the poll was on the wire.
		s.mu.Unlock()
		return false
	}

	job.PollFailures = 0
	mergeLogs(job, status.Logs)

	state, fromText := terminalState(job, status)
	if state == JobRunning {
		s.mu.Unlock()
		return true
	}

	// Terminal: stop the loop before any further mutation so at most
	// one terminal transition ever happens for this job.
	job.Status = state
	cancel := job.cancel
	job.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if fromText && status.Status != "" && !isTerminalStatus(status.Status) {
		s.logger.Warn("job log text and status field disagree, trusting log text",
			"job_id", jobID, "status_field", status.Status)
	}

	s.finishJob(jobID, state)

	return false
}

// recordJobPollFailure counts one failed poll. Transient errors keep
// the loop alive below the ceiling; at the ceiling the job is forced
// into Failed with a synthetic log line.
func (s *Supervisor) recordJobPollFailure(jobID string, err error) bool {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok || job.terminal() {
		s.mu.Unlock()
		return false
	}

	job.PollFailures++
	failures := job.PollFailures

	if failures <= s.opts.JobFailureCeiling {
		s.mu.Unlock()
		s.logger.Debug("job poll failed", "job_id", jobID, "failures", failures, "error", err)

		return true
	}

	job.Status = JobFailed
	job.Logs = append(job.Logs, fmt.Sprintf("Job polling timed out after %d failed attempts", failures))
	cancel := job.cancel
	job.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	s.logger.Error("job poll failure ceiling reached", "job_id", jobID, "error", err)
	s.finishJob(jobID, JobFailed)

	return false
}

// finishJob runs the terminal side effects: publish, refresh the app
// list after a settle delay, then drop the job after a linger that
// differs by outcome so failures stay visible.
func (s *Supervisor) finishJob(jobID string, state JobState) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	var kind JobKind
	var target string
	if ok {
		kind = job.Kind
		target = job.Target
	}
	s.mu.Unlock()

	if !ok {
		return
	}

	if state == JobCompleted {
		s.bus.Publish(TopicJobCompleted, fmt.Sprintf("%s %s completed", kind, target))
	} else {
		s.bus.Publish(TopicJobFailed, fmt.Sprintf("%s %s failed", kind, target))
	}

	time.AfterFunc(s.opts.JobSettleDelay, func() {
		s.refreshApps()
	})

	linger := s.opts.JobSuccessLinger
	if state == JobFailed {
		linger = s.opts.JobFailureLinger
	}

	time.AfterFunc(linger, func() {
		s.mu.Lock()
		delete(s.jobs, jobID)
		s.mu.Unlock()
	})
}

// refreshApps re-reads the installed-apps list and notifies observers.
func (s *Supervisor) refreshApps() {
	ctx, cancel := context.WithTimeout(context.Background(), daemon.DefaultTimeout)
	defer cancel()

	state, err := s.client.GetFullState(ctx, daemon.StateQuery{Apps: true})
	if err != nil {
		s.logger.Warn("app list refresh failed", "error", err)
		return
	}

	names := make([]string, 0, len(state.Apps))
	for _, app := range state.Apps {
		names = append(names, app.Name)
	}

	s.mu.Lock()
	s.installedApps = names
	s.mu.Unlock()

	if s.opts.OnAppsChanged != nil {
		s.opts.OnAppsChanged()
	}
}

func (s *Supervisor) anyJobRunningLocked() bool {
	for _, job := range s.jobs {
		if !job.terminal() {
			return true
		}
	}

	return false
}

// mergeLogs appends the remote log suffix. The local copy only grows:
// a shorter or diverging remote list never truncates or reorders what
// was already shown.
func mergeLogs(job *Job, remote []string) {
	if len(remote) > len(job.Logs) {
		job.Logs = append(job.Logs, remote[len(job.Logs):]...)
	}
}

// terminalState decides whether this poll result is terminal, honoring
// both the structured status field and the log-text heuristic. The log
// text is authoritative when the two disagree: some daemon versions
// only report completion through logs.
func terminalState(job *Job, status *daemon.JobStatus) (state JobState, fromText bool) {
	if logsIndicateCompletion(job.Kind, job.Logs) {
		return JobCompleted, true
	}

	switch strings.ToLower(status.Status) {
	case "completed", "success", "succeeded", "done":
		return JobCompleted, false
	case "failed", "error":
		return JobFailed, false
	}

	return JobRunning, false
}

func isTerminalStatus(status string) bool {
	switch strings.ToLower(status) {
	case "completed", "success", "succeeded", "done", "failed", "error":
		return true
	}

	return false
}

// logsIndicateCompletion matches the fixed completion phrases in the
// job's own log lines.
func logsIndicateCompletion(kind JobKind, logs []string) bool {
	kindPhrase := kind.String() + " completed"

	for _, line := range logs {
		lower := strings.ToLower(line)
		if strings.Contains(lower, kindPhrase) || strings.Contains(lower, "completed successfully") {
			return true
		}
	}

	return false
}
