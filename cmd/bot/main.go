package main

import (
	"flag"
	"log"
	"log/slog"
	"path/filepath"
	"vpnbot/bot"
	"vpnbot/impl/auth"
	"vpnbot/impl/core"
	"vpnbot/impl/ledger"
	"vpnbot/internal/cache"
	"vpnbot/internal/config"
	"vpnbot/internal/cryptobot"
	"vpnbot/internal/database"
	"vpnbot/internal/http-server/api"
	"vpnbot/internal/panel"
	"vpnbot/internal/stripeclient"
	"vpnbot/lib/logger"
	"vpnbot/lib/sl"
)

const logFileName = "vpnbot.log"

func main() {
	configPath := flag.String("conf", "config.yml", "path to config file")
	logPath := flag.String("log", "/var/log/", "path to log file directory")
	flag.Parse()

	conf := config.MustLoad(*configPath)
	lg := logger.SetupLogger(conf.Env, filepath.Join(*logPath, logFileName))
	lg.Info("starting vpnbot", slog.String("config", *configPath), slog.String("env", conf.Env))

	db, err := database.NewSQLClient(conf)
	if err != nil {
		log.Fatal("mysql connection: ", err)
	}

	lgr := ledger.New(db, lg, ledger.Config{
		CodeHexLength: conf.Invites.CodeHexLength,
		MaxUsesLimit:  conf.Invites.MaxUsesLimit,
	})
	authority := auth.New(db, conf)

	c := core.New(db, lgr, authority, conf, lg)
	c.SetCache(cache.NewRedisClient(conf))
	c.SetStripe(stripeclient.New(conf, lg))
	c.SetCryptoBot(cryptobot.New(conf, lg))
	if conf.Panel.BaseURL != "" {
		c.SetPanel(panel.NewClient(conf, lg))
	}
	if mongo := database.NewMongoClient(conf); mongo != nil {
		c.SetArchive(mongo)
	}

	tgBot, err := bot.NewTgBot(conf, c, lg)
	if err != nil {
		log.Fatal("telegram bot: ", err)
	}

	// error-level records go to admin chats once the bot is up
	tgLog := slog.New(logger.NewTelegramHandler(lg.Handler(), tgBot, slog.LevelError))

	go func() {
		if srvErr := api.New(conf, tgLog, c); srvErr != nil {
			tgLog.Error("api server stopped", sl.Err(srvErr))
		}
	}()

	if err = tgBot.Start(); err != nil {
		log.Fatal("bot polling: ", err)
	}
}
