package main

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/mirrorkit/vimeograb/internal/common/config"
	"github.com/mirrorkit/vimeograb/internal/common/logger"
	"github.com/mirrorkit/vimeograb/internal/common/messaging"
	"github.com/mirrorkit/vimeograb/internal/web/handler"
)

func main() {
	// Load the configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	panelCfg := cfg.GetPanelConfig()
	rabbitCfg := cfg.GetRabbitMQConfig()

	// Initialize logger
	log := logger.New(cfg)

	log.Infof("Panel configuration: %+v", panelCfg)

	// The panel only makes sense with a broker feeding it events
	msgClient, err := messaging.NewRabbitMQClient(rabbitCfg)
	if err != nil {
		log.Fatalf("Failed to create RabbitMQ client: %v", err)
	}
	defer msgClient.Close()

	// Initialize the gin router
	r := gin.Default()

	// Setup handlers
	h := handler.NewHandler(panelCfg, rabbitCfg, log, msgClient)
	h.RegisterRoutes(r)

	// Start the web server
	addr := fmt.Sprintf("%s:%d", panelCfg.Host, panelCfg.Port)
	log.Infof("Starting panel on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("Failed to start panel: %v", err)
	}
}
