package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"ClinicPulse/internal/di"
	"ClinicPulse/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	check := flag.Bool("check", false, "validate the config, print the enabled components and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config %s: %v", *configPath, err)
	}
	summary := fmt.Sprintf("env=%s artifacts=%s kafka=%t redis=%t queue=%t port=%d",
		cfg.Environment, cfg.Artifacts.Backend, cfg.Kafka.Enabled, cfg.Redis.Enabled, cfg.Queue.Enabled, cfg.Server.Port)
	if *check {
		fmt.Println("config ok:", summary)
		return
	}
	log.Printf("starting clinicpulse %s", summary)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	if err := app.Run(); err != nil {
		log.Printf("run: %v", err)
		os.Exit(1)
	}
}
