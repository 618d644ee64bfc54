package infrastructure

import (
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

// NotificationService sends desktop notifications for install lifecycle events
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	var err error
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, escapeAppleScript(message), escapeAppleScript(title))
		if n.config.Sound {
			script += ` sound name "Glass"`
		}
		err = n.run("osascript", "-e", script)
	case "notify-send":
		err = n.run("notify-send", "--app-name=gameinstall", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// NotifyInstallStarted sends a notification when an engine starts
func (n *NotificationService) NotifyInstallStarted(title string, task domain.InstallTask) {
	n.Send("Install Started", fmt.Sprintf("%s: %s started", title, task))
}

// NotifyInstallFinished sends a notification when an engine finishes
func (n *NotificationService) NotifyInstallFinished(title string, task domain.InstallTask) {
	n.Send("Install Finished", fmt.Sprintf("%s: %s finished", title, task))
}

// NotifyInstallFailed sends a notification with the user-facing error text
func (n *NotificationService) NotifyInstallFailed(title string, task domain.InstallTask, err error) {
	n.Send("Install Failed", fmt.Sprintf("%s: %s", title, domain.UserMessage(err)))
}

func escapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
