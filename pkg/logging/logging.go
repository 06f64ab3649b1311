// Package logging provides leveled, process-wide logging. Messages go to the
// standard log package, or to a size-rotated log file once SetLogger has been
// called with a file name.
package logging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/natefinch/lumberjack"
)

// ModeFlag is the minimum severity written.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	SilentMode
)

var (
	// Verbose enables Debugf output when the mode would otherwise skip it.
	Verbose bool

	mu   sync.RWMutex
	mode = InfoMode
	file *lumberjack.Logger
)

// LogConfig selects a rotating log file.
type LogConfig struct {
	Logfile string `yaml:"logfile" toml:"logfile"`
	MaxSize int    `yaml:"maxSize" toml:"max_log_size"`
	MaxAge  int    `yaml:"maxAge" toml:"max_log_age"`
	Verbose bool   `yaml:"verbose" toml:"verbose"`
}

// SetLogger sends log output to the configured rotating file. A nil config
// or an empty file name keeps logging on stderr.
func (c *LogConfig) SetLogger() {
	if c == nil {
		return
	}
	Verbose = c.Verbose
	if c.Logfile == "" {
		Infof("Sending log messages to stderr since no log file specified.")
		return
	}
	fmt.Printf("Sending log messages to: %s\n", c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}

	mu.Lock()
	file = l
	mu.Unlock()
	log.SetOutput(l)
}

// SetLogMode sets the severity required for a message to be printed.
// SilentMode turns off all logging.
func SetLogMode(m ModeFlag) {
	mu.Lock()
	mode = m
	mu.Unlock()
}

func enabled(m ModeFlag) bool {
	mu.RLock()
	defer mu.RUnlock()
	if m == DebugMode && Verbose && mode != SilentMode {
		return true
	}
	return mode <= m
}

// Debugf formats its arguments analogous to fmt.Printf and records the text
// at Debug level. It is dropped unless Verbose is set or the mode is
// DebugMode.
func Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		log.Printf(" DEBUG "+format, args...)
	}
}

// Infof is like Debugf, but at Info level.
func Infof(format string, args ...interface{}) {
	if enabled(InfoMode) {
		log.Printf(" INFO "+format, args...)
	}
}

// Warningf is like Debugf, but at Warning level.
func Warningf(format string, args ...interface{}) {
	if enabled(WarningMode) {
		log.Printf(" WARNING "+format, args...)
	}
}

// Errorf is like Debugf, but at Error level.
func Errorf(format string, args ...interface{}) {
	if enabled(ErrorMode) {
		log.Printf(" ERROR "+format, args...)
	}
}

// Shutdown closes the log file, if any.
func Shutdown() {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		log.Printf("Closing log file...\n")
		file.Close()
		file = nil
	}
}

// TimeLog appends the elapsed time since its creation to each message.
//
//	tlog := logging.NewTimeLog()
//	...
//	tlog.Infof("built volume %s", id) // "built volume x: 12ms"
type TimeLog struct {
	start time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{time.Now()}
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	Debugf(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	Infof(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Warningf(format string, args ...interface{}) {
	Warningf(format+": %s", append(args, time.Since(t.start))...)
}

func (t TimeLog) Errorf(format string, args ...interface{}) {
	Errorf(format+": %s", append(args, time.Since(t.start))...)
}
