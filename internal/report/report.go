// Package report builds and sends the optional run-report email (§6's
// -r flag). No SMTP client library appears anywhere in the example
// pack, so this uses net/smtp directly rather than pulling in a
// general-purpose mail library for one plaintext notification.
package report

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/phenodcc/crawler/internal/config"
	"github.com/phenodcc/crawler/internal/database"
)

// Send formats a session summary as a plaintext email and relays it
// through the configured SMTP server. A zero-value smtpConfig.Host
// means no relay is configured; callers should skip calling Send in
// that case rather than treat it as an error.
func Send(smtpConfig config.SMTPConfig, to string, summary database.SessionSummary) error {
	if smtpConfig.Host == "" {
		return fmt.Errorf("smtp.host is not configured, cannot send run report")
	}

	addr := fmt.Sprintf("%s:%d", smtpConfig.Host, smtpConfig.Port)
	body := format(summary)

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s\r\n",
		smtpConfig.From, to, subject(summary), body)

	return smtp.SendMail(addr, nil, smtpConfig.From, []string{to}, []byte(msg))
}

func subject(summary database.SessionSummary) string {
	status := "succeeded"
	if summary.Succeeded != nil && !*summary.Succeeded {
		status = "failed"
	}
	return fmt.Sprintf("phenocrawler session %d %s", summary.SessionID, status)
}

func format(summary database.SessionSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %d\n", summary.SessionID)
	fmt.Fprintf(&b, "Started:  %s\n", summary.StartedAt.UTC().Format("2006-01-02T15:04:05Z"))
	if summary.EndedAt != nil {
		fmt.Fprintf(&b, "Ended:    %s\n", summary.EndedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}
	if summary.Succeeded != nil {
		fmt.Fprintf(&b, "Succeeded: %t\n", *summary.Succeeded)
	}
	fmt.Fprintf(&b, "\nDownloads attempted: %d\n", summary.DownloadsAttempted)
	fmt.Fprintf(&b, "Downloads succeeded: %d\n", summary.DownloadsSucceeded)
	fmt.Fprintf(&b, "Downloads failed:    %d\n", summary.DownloadsFailed)
	fmt.Fprintf(&b, "Documents processed: %d\n", summary.DocumentsProcessed)
	return b.String()
}
