package manager

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const historyTrimInterval = 24 * time.Hour

// historyWriter appends a CSV line for every cycle and keeps the file to the
// last maxLines lines, trimmed once a day.
type historyWriter struct {
	path     string
	maxLines int
	lastTrim time.Time
}

func newHistoryWriter(conf HistoryConfig) *historyWriter {
	return &historyWriter{
		path:     conf.File,
		maxLines: conf.MaxLines,
	}
}

func (h *historyWriter) Observe(r Report) {
	if err := h.write(r); err != nil {
		log.Warnf("Failed to write history: %v", err)
	}
}

func (h *historyWriter) write(r Report) error {
	if time.Since(h.lastTrim) > historyTrimInterval {
		// A failed trim is retried the next day, the line is still written.
		if err := keepLastLines(h.path, h.maxLines); err != nil {
			log.Warnf("Failed to trim history: %v", err)
		}
		h.lastTrim = time.Now()
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0755); err != nil {
		return err
	}
	file, err := os.OpenFile(h.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(historyLine(r) + "\n"); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func historyLine(r Report) string {
	return fmt.Sprintf("%s, %d, %.2f, %s, %t, %s",
		r.Time.Format("2006-01-02 15:04:05"), r.Percent, r.Temperature, r.Mode, r.HeatPaused, r.Directive)
}

// keepLastLines keeps the last `maxLines` lines of the specified file.
func keepLastLines(filePath string, maxLines int) error {
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return nil
	}
	tmpFile := filePath + ".tmp"
	err := os.Remove(tmpFile)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	commands := []string{"sh", "-c", `tail -n "$1" "$2" > "$3"`, "sh", strconv.Itoa(maxLines), filePath, tmpFile}
	cmd := exec.Command(commands[0], commands[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("err running '%s', %v, %v", strings.Join(commands, " "), string(out), err)
	}
	return os.Rename(tmpFile, filePath)
}
