// Package cmd presiplab 的命令行入口：serve 启动 HTTP 服务，chat 打开终端客户端。
package cmd

import (
	"fmt"

	"presip-lab/server/internal/config"
	"presip-lab/server/internal/logger"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "presiplab",
	Short: "Pre-SIP Practice Lab - roleplay practice for early childhood educators",
	Long: `Pre-SIP Practice Lab lets student teachers rehearse conversations with
children, parents and colleagues, then scores the session against the NEL
framework.

Running without a config file starts the scripted simulator, which needs no
API keys.`,
	SilenceUsage: true,
}

// Execute 执行根命令。
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is server/configs/presiplab.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "debug|info|warn|error, overrides config")

	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig 加载 .env，并让 PRESIP_ 前缀的环境变量可以覆盖命令行参数。
func initConfig() {
	// .env 不存在时直接使用进程环境变量。
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.Set("config", cfgFile)
	} else {
		viper.SetDefault("config", "server/configs/presiplab.yaml")
	}

	viper.SetEnvPrefix("PRESIP")
	viper.AutomaticEnv()
}

// loadConfig 读取配置文件并合并命令行覆盖项。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if level := viper.GetString("log_level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func connectLogger(cfg *config.Config) (*logger.LogMiddleware, error) {
	log, err := logger.Connect(logger.LoggerConnectProps{
		Production: cfg.Logging.Production,
		Level:      cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}
