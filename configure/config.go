package configure

import (
	"bytes"
	"encoding/json"
	"strings"

	nested "github.com/antonfisher/nested-logrus-formatter"
	"github.com/kr/pretty"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type ServerCfg struct {
	Level            string `mapstructure:"level"`
	ConfigFile       string `mapstructure:"config_file"`
	RedisURI         string `mapstructure:"redis_uri"`
	MongoURI         string `mapstructure:"mongo_uri"`
	MongoDB          string `mapstructure:"mongo_db"`
	ExitCode         int    `mapstructure:"exit_code"`
	TeacherPassword  string `mapstructure:"teacher_password"`
	TeacherGrace     int    `mapstructure:"teacher_grace_seconds"`
	TeacherIdleMins  int    `mapstructure:"teacher_idle_minutes"`
	ParticipantGrace int    `mapstructure:"participant_grace_seconds"`
	PollMinDuration  int    `mapstructure:"poll_min_duration"`
	PollMaxDuration  int    `mapstructure:"poll_max_duration"`
	ChatHistorySize  int    `mapstructure:"chat_history_size"`
	HeartbeatSeconds int    `mapstructure:"heartbeat_seconds"`
	HistoryLimit     int    `mapstructure:"history_limit"`
}

// default config
var defaultConf = ServerCfg{
	ConfigFile:       "config.yaml",
	TeacherGrace:     60,
	TeacherIdleMins:  15,
	ParticipantGrace: 120,
	PollMinDuration:  5,
	PollMaxDuration:  60,
	ChatHistorySize:  50,
	HeartbeatSeconds: 30,
	HistoryLimit:     50,
}

var Config = viper.New()

func initLog() {
	if l, err := log.ParseLevel(Config.GetString("level")); err == nil {
		log.SetLevel(l)
	}
	log.SetFormatter(&nested.Formatter{
		HideKeys:    true,
		FieldsOrder: []string{"component", "category"},
	})
}

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}

func init() {
	// Default config
	b, _ := json.Marshal(defaultConf)
	defaultConfig := bytes.NewReader(b)
	viper.SetConfigType("json")
	checkErr(viper.ReadConfig(defaultConfig))
	checkErr(Config.MergeConfigMap(viper.AllSettings()))

	// Flags
	pflag.String("config_file", "config.yaml", "configure filename")
	pflag.String("level", "info", "Log level")
	pflag.String("redis_uri", "", "Address for the redis server.")
	pflag.String("mongo_uri", "", "Address for the mongodb server.")
	pflag.String("mongodb", "", "Database for the mongodb connection.")
	pflag.String("teacher_password", "", "Shared password gating the teacher role, empty disables the gate.")
	pflag.Int("teacher_grace_seconds", 60, "Seconds a disconnected teacher still holds the slot.")
	pflag.Int("teacher_idle_minutes", 15, "Minutes of inactivity before a teacher slot is reclaimed.")
	pflag.Int("participant_grace_seconds", 120, "Seconds a disconnected participant still counts as active.")
	pflag.Int("poll_min_duration", 5, "Minimum poll duration in seconds.")
	pflag.Int("poll_max_duration", 60, "Maximum poll duration in seconds.")
	pflag.Int("chat_history_size", 50, "Number of chat messages retained.")
	pflag.Int("heartbeat_seconds", 30, "Presence heartbeat interval per connection.")
	pflag.Int("history_limit", 50, "Maximum completed polls returned by the history endpoint.")
	pflag.Int("exit_code", 0, "Status code for successful and graceful shutdown, [0-125].")
	pflag.Parse()
	checkErr(Config.BindPFlags(pflag.CommandLine))

	// File
	Config.SetConfigFile(Config.GetString("config_file"))
	Config.AddConfigPath(".")
	err := Config.ReadInConfig()
	if err != nil {
		log.Warning(err)
		log.Info("Using default config")
	} else {
		checkErr(Config.MergeInConfig())
	}

	// Environment
	replacer := strings.NewReplacer(".", "_")
	Config.SetEnvKeyReplacer(replacer)
	Config.AllowEmptyEnv(true)
	Config.AutomaticEnv()

	// Log
	initLog()

	// Print final config
	c := ServerCfg{}
	checkErr(Config.Unmarshal(&c))
	log.Debugf("Current configurations: \n%# v", pretty.Formatter(c))
}
