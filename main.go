package main

import (
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/weftlabs/weft/agent"
	"github.com/weftlabs/weft/analytics"
	"github.com/weftlabs/weft/config"
)

type cfg struct {
	config.Config
}
type cli struct {
	cfg cfg
}

func setupFlags(cmd *cobra.Command) error {
	cmd.Flags().String("config-file", "", "Path to config file.")
	cmd.Flags().String("redis-addr", "localhost:6379", "comma separated list of redis host:port")
	cmd.Flags().String("namespace", "weft", "namespace used in storage")
	cmd.Flags().String("data-dir", "./weft-data", "data directory for badger storage")
	cmd.Flags().Int("http-port", 8080, "http port for rest endpoints")
	cmd.Flags().String("storage-impl", "badger", "implementation of underline storage")
	cmd.Flags().Int64("snapshot-every", 64, "events between run snapshots")
	cmd.Flags().Int("snapshot-every-ms", 0, "milliseconds between run snapshots, 0 disables")
	cmd.Flags().Int("event-batch-size", 16, "events buffered before a log flush")
	cmd.Flags().Int("event-flush-ms", 200, "milliseconds between forced log flushes")
	cmd.Flags().Int("task-grace-ms", 5000, "grace after a task deadline before it is failed")
	cmd.Flags().Bool("recover-on-startup", true, "recover interrupted runs on startup")
	cmd.Flags().String("analytics-file", "", "file for task history records, empty disables")
	return viper.BindPFlags(cmd.Flags())
}

func (c *cli) setupConfig(cmd *cobra.Command, args []string) error {
	var err error

	configFile, err := cmd.Flags().GetString("config-file")
	if err != nil {
		return err
	}
	viper.SetConfigFile(configFile)

	if err = viper.ReadInConfig(); err != nil {
		// it's ok if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	c.cfg.RedisConfig.Addrs = strings.Split(viper.GetString("redis-addr"), ",")
	c.cfg.RedisConfig.Namespace = viper.GetString("namespace")
	c.cfg.BadgerConfig.DataDir = viper.GetString("data-dir")
	c.cfg.HttpPort = viper.GetInt("http-port")
	c.cfg.StorageType = config.StorageType(viper.GetString("storage-impl"))
	c.cfg.SnapshotEvery = viper.GetInt64("snapshot-every")
	c.cfg.SnapshotEveryMs = viper.GetInt("snapshot-every-ms")
	c.cfg.EventBatchSize = viper.GetInt("event-batch-size")
	c.cfg.EventFlushMs = viper.GetInt("event-flush-ms")
	c.cfg.TaskGraceMs = viper.GetInt("task-grace-ms")
	c.cfg.RecoverOnStartup = viper.GetBool("recover-on-startup")
	if file := viper.GetString("analytics-file"); file != "" {
		c.cfg.AnalyticsConfig = analytics.DataCollectorConfig{
			FileName:      file,
			CollectorType: analytics.LOG_FILE_DATA_COLLECTOR,
		}
	}
	return nil
}

func (c *cli) run(cmd *cobra.Command, args []string) error {
	agent, err := agent.New(c.cfg.Config)
	if err != nil {
		panic(err)
	}
	err = agent.Start()
	if err != nil {
		panic(err)
	}
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	return agent.Shutdown()
}

func main() {
	cli := &cli{}

	cmd := &cobra.Command{
		Use:     "weft",
		PreRunE: cli.setupConfig,
		RunE:    cli.run,
	}

	if err := setupFlags(cmd); err != nil {
		log.Fatal(err)
	}

	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
