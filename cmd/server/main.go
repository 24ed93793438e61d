// Command server 启动房间协作服务：HTTP API、SSE/WebSocket 事件流和后台清理任务。
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/jairofilho79/coldigom/internal/bootstrap"
)

const serviceName = "coldigom-rooms"

func main() {
	app, err := bootstrap.NewApp()
	if err != nil {
		logrus.WithField("service", serviceName).Fatalf("Failed to initialize application: %v", err)
	}
	log := app.Log.WithFields(logrus.Fields{
		"service":     serviceName,
		"env":         app.Config.AppEnv,
		"port":        app.Config.ServerPort,
		"event_relay": app.Config.EventRelay,
	})

	app.Start()
	log.Info("Room service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	sig := <-stop
	log.WithField("signal", sig.String()).Info("Shutdown signal received")

	app.Shutdown()
	log.Info("Room service stopped")
}
