// Package logger 初始化全局 logrus：控制台 + lumberjack 滚动文件。
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timestampFormat = "06-01-02 15:04:05" // yy-mm-dd HH:MM:ss

var (
	// Logger 全局日志实例
	Logger *logrus.Logger

	mu          sync.Mutex
	currentFile string
	fileWriter  *lumberjack.Logger
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`             // debug, info, warn, error
	Format     string `yaml:"format" json:"format"`           // text | json
	OutputFile string `yaml:"output_file" json:"output_file"` // 为空则只输出到控制台
	MaxSize    int    `yaml:"max_size" json:"max_size"`       // MB
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	MaxAge     int    `yaml:"max_age" json:"max_age"` // 天
	Compress   bool   `yaml:"compress" json:"compress"`
	NoColor    bool   `yaml:"no_color" json:"no_color"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		OutputFile: "logs/ordercore.log",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Compress:   true,
	}
}

func newFormatter(cfg Config) logrus.Formatter {
	if strings.EqualFold(cfg.Format, "json") {
		return &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
		ForceColors:     !cfg.NoColor && cfg.OutputFile == "",
		DisableColors:   cfg.NoColor || cfg.OutputFile != "",
	}
}

// Init 初始化日志系统。同时设置全局 logrus，使各模块 logrus.WithField("module", ...) 也写入文件。
func Init(cfg Config) error {
	return InitWithStdout(cfg, os.Stdout)
}

// InitWithStdout 同 Init，可替换控制台输出（测试用）
func InitWithStdout(cfg Config, stdout io.Writer) error {
	mu.Lock()
	defer mu.Unlock()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	writers := []io.Writer{}
	if stdout != nil {
		writers = append(writers, stdout)
	}

	var fw *lumberjack.Logger
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return err
		}
		fw = &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		writers = append(writers, fw)
	}
	out := io.MultiWriter(writers...)

	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(newFormatter(cfg))
	l.SetOutput(out)

	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter(cfg))

	if fileWriter != nil {
		_ = fileWriter.Close()
	}
	fileWriter = fw
	currentFile = cfg.OutputFile
	Logger = l
	return nil
}

// Close 关闭日志文件
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

// Rotate 立即切换到新文件（例如收到 SIGHUP）
func Rotate() error {
	mu.Lock()
	defer mu.Unlock()
	if fileWriter == nil {
		return nil
	}
	return fileWriter.Rotate()
}

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Debugf(format, args...)
	}
}

// Info 记录 INFO 级别日志
func Info(args ...interface{}) {
	if Logger != nil {
		Logger.Info(args...)
	}
}

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Infof(format, args...)
	}
}

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Warnf(format, args...)
	}
}

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) {
	if Logger != nil {
		Logger.Errorf(format, args...)
	}
}

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	if Logger != nil {
		return Logger.WithField(key, value)
	}
	return logrus.WithField(key, value)
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	mu.Lock()
	defer mu.Unlock()
	return currentFile
}
