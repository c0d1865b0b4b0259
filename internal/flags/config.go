package flags

import (
	"os"
	"strings"

	"github.com/spf13/pflag"
)

const (
	// Env vars
	EnvVarConfigFile   = "MCPFLOW_CONFIG_FILE"
	EnvVarWorkflowsDir = "MCPFLOW_WORKFLOWS_DIR"
	EnvVarLogPath      = "MCPFLOW_LOG_PATH"
	EnvVarLogLevel     = "MCPFLOW_LOG_LEVEL"

	// Defaults
	DefaultConfigFile   = ".mcpflow.toml"
	DefaultWorkflowsDir = "workflows"
	DefaultLogPath      = ""
	DefaultLogLevel     = "info"

	// Flag names
	FlagNameConfigFile   = "config-file"
	FlagNameWorkflowsDir = "workflows-dir"
	FlagNameLogPath      = "log-path"
	FlagNameLogLevel     = "log-level"
)

var (
	ConfigFile   string
	WorkflowsDir string
	LogPath      string
	LogLevel     string
)

func InitFlags(fs *pflag.FlagSet) {
	initConfigFile(fs)
	initWorkflowsDir(fs)
	initLogger(fs)
}

func initConfigFile(fs *pflag.FlagSet) {
	if ConfigFile == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarConfigFile)); env != "" {
			ConfigFile = env
		} else {
			ConfigFile = DefaultConfigFile
		}
	}
	fs.StringVar(&ConfigFile, FlagNameConfigFile, ConfigFile, "path to config file")
}

func initWorkflowsDir(fs *pflag.FlagSet) {
	if WorkflowsDir == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarWorkflowsDir)); env != "" {
			WorkflowsDir = env
		} else {
			WorkflowsDir = DefaultWorkflowsDir
		}
	}
	fs.StringVar(&WorkflowsDir, FlagNameWorkflowsDir, WorkflowsDir, "directory containing workflow definition files")
}

func initLogger(fs *pflag.FlagSet) {
	if LogPath == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarLogPath)); env != "" {
			LogPath = env
		} else {
			LogPath = DefaultLogPath
		}
	}
	fs.StringVar(&LogPath, FlagNameLogPath, LogPath, "path to generated log file")

	if LogLevel == "" {
		if env := strings.TrimSpace(os.Getenv(EnvVarLogLevel)); env != "" {
			LogLevel = strings.ToLower(env)
		} else {
			LogLevel = DefaultLogLevel
		}
	}
	fs.StringVar(&LogLevel, FlagNameLogLevel, LogLevel, "log level for mcpflow logs")
}
