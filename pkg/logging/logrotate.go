package logging

import "fmt"

// GenerateLogrotateConfig creates a logrotate configuration for a component
func GenerateLogrotateConfig(component string) string {
	return fmt.Sprintf(`# Logrotate configuration for ffrec %s
# Install: sudo cp this file to /etc/logrotate.d/ffrec-%s

%s/%s/*.log {
    weekly
    rotate 8
    compress
    delaycompress
    missingok
    notifempty
    create 0644 root root
    # ffrec reopens its log on every run, copytruncate keeps long sessions writing
    copytruncate
}
`, component, component, DefaultBaseDir, component)
}
