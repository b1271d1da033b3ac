// Package cron schedules the two background sweeps the orchestration
// subsystem needs outside the request/job path: clearing credential
// cooldowns once their window elapses, and reaping on-disk chunk/result
// caches past their TTL.
package cron

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/jokbolink/orchestrator/model"
	"github.com/jokbolink/orchestrator/services/credential"
)

// CronManager manages all scheduled cron jobs.
type CronManager struct {
	cron *cron.Cron
	db   *gorm.DB
	pool *credential.Pool

	diskRoot string
	fileTTL  time.Duration
}

// Config configures a CronManager.
type Config struct {
	DB       *gorm.DB
	Pool     *credential.Pool
	DiskRoot string
	FileTTL  time.Duration
}

// NewCronManager creates a new cron manager with seconds precision.
func NewCronManager(config Config) *CronManager {
	return &CronManager{
		cron:     cron.New(cron.WithSeconds()),
		db:       config.DB,
		pool:     config.Pool,
		diskRoot: config.DiskRoot,
		fileTTL:  config.FileTTL,
	}
}

// Start registers and starts all cron jobs.
func (m *CronManager) Start() error {
	log.Println("Starting cron jobs...")
	if err := m.registerJobs(); err != nil {
		return err
	}
	m.cron.Start()
	log.Println("Cron jobs started successfully")
	return nil
}

// Stop stops the cron scheduler, waiting for any in-flight job to finish.
func (m *CronManager) Stop() {
	log.Println("Stopping cron jobs...")
	ctx := m.cron.Stop()
	<-ctx.Done()
	log.Println("Cron jobs stopped")
}

func (m *CronManager) registerJobs() error {
	// Every minute: restore credentials whose cooldown window elapsed.
	if _, err := m.cron.AddFunc("0 * * * * *", func() {
		m.logJobStart("restore_credential_cooldowns")
		m.RestoreCredentialCooldowns()
	}); err != nil {
		return err
	}

	// Hourly: reap disk-cached chunk results and uploaded files past their TTL.
	if _, err := m.cron.AddFunc("0 0 * * * *", func() {
		m.logJobStart("sweep_expired_files")
		m.SweepExpiredFiles()
	}); err != nil {
		return err
	}

	log.Println("All cron jobs registered successfully")
	return nil
}

// RestoreCredentialCooldowns clears any credential whose cooldown window
// has elapsed, so it rejoins the round-robin rotation.
func (m *CronManager) RestoreCredentialCooldowns() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m.pool.RestoreExpiredCooldowns(ctx)
	m.logJobComplete("restore_credential_cooldowns", "cooldown sweep complete")
}

// SweepExpiredFiles removes disk-mirrored job files and chunk caches older
// than fileTTL. Redis entries expire on their own TTL; this only needs to
// clean up what the disk mirror doesn't expire automatically.
func (m *CronManager) SweepExpiredFiles() {
	removed, err := sweepDir(m.diskRoot, m.fileTTL)
	if err != nil {
		m.logJobError("sweep_expired_files", err)
		return
	}
	m.logJobComplete("sweep_expired_files", "removed "+itoa(removed)+" expired entries")
}

func (m *CronManager) logJobStart(jobName string) {
	log.Printf("[CRON] Starting job: %s at %s", jobName, time.Now().Format(time.RFC3339))
	cronLog := model.CronJobLog{JobName: jobName, Status: "running", StartedAt: time.Now(), Metadata: datatypes.JSON("{}")}
	m.db.Create(&cronLog)
}

func (m *CronManager) logJobComplete(jobName, message string) {
	log.Printf("[CRON] Completed job: %s - %s", jobName, message)
	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "completed",
			"completed_at": time.Now(),
			"message":      message,
		})
}

func (m *CronManager) logJobError(jobName string, err error) {
	log.Printf("[CRON] Error in job: %s - %v", jobName, err)
	m.db.Model(&model.CronJobLog{}).
		Where("job_name = ? AND status = ?", jobName, "running").
		Order("started_at DESC").
		Limit(1).
		Updates(map[string]interface{}{
			"status":       "failed",
			"completed_at": time.Now(),
			"error_msg":    err.Error(),
		})
}
