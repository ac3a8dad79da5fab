package main

import (
	"log"

	"github.com/m3rciful/doorman/bot"
	corebootstrap "github.com/m3rciful/doorman/core/bootstrap"
	corecmd "github.com/m3rciful/doorman/core/cmd"
	coreconfig "github.com/m3rciful/doorman/core/config"
	coredatabase "github.com/m3rciful/doorman/core/database"
)

type configCarrier struct {
	cfg *coreconfig.Config
}

func (c configCarrier) CoreConfig() *coreconfig.Config { return c.cfg }

func main() {
	err := corecmd.Run(corecmd.Options{
		DefaultConfigPath: "config.yaml",
		LoadConfig: func(path string) (corecmd.ConfigCarrier, error) {
			cfg, err := coreconfig.Load(path)
			if err != nil {
				return nil, err
			}
			return configCarrier{cfg: cfg}, nil
		},
		Bootstrap: func(cc corecmd.ConfigCarrier) (corecmd.TelegramApp, error) {
			cfg := cc.CoreConfig()
			res, err := corebootstrap.Run(corebootstrap.Options{
				Config:   cfg,
				Database: databaseConfig(cfg.Database),
			})
			if err != nil {
				return nil, err
			}
			return bot.NewApp(cfg, res.DB), nil
		},
	})
	if err != nil {
		log.Fatalf("doorman: %v", err)
	}
}

func databaseConfig(db coreconfig.DatabaseConfig) coredatabase.Config {
	return coredatabase.Config{
		Enabled:        db.Enabled,
		Host:           db.Host,
		Port:           db.Port,
		User:           db.User,
		Password:       db.Password,
		Name:           db.Name,
		SSLMode:        db.SSLMode,
		MaxConnections: db.MaxConnections,
	}
}
