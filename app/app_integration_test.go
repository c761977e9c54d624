// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build integration
// +build integration

package app_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/influxdb"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/app"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/config"
	"github.com/MapleEve/lifesmart-for-homeassistant-sub001/storage"
)

const (
	testToken  = "test-token-12345"
	testOrg    = "testorg"
	testBucket = "testbucket"
)

type AppIntegrationTestSuite struct {
	suite.Suite
	influxDBContainer *influxdb.InfluxDbContainer
	brokerContainer   testcontainers.Container
	influxDBURL       string
	brokerURL         string
}

func TestAppIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(AppIntegrationTestSuite))
}

func (s *AppIntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	influxDBContainer, err := influxdb.Run(ctx,
		"influxdb:2.7-alpine",
		influxdb.WithV2Auth(testOrg, testBucket, "testuser", "testpassword"),
		influxdb.WithV2AdminToken(testToken),
	)
	s.Require().NoError(err)
	s.influxDBContainer = influxDBContainer
	s.influxDBURL, err = influxDBContainer.ConnectionUrl(ctx)
	s.Require().NoError(err)

	brokerContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "eclipse-mosquitto:1.6",
			ExposedPorts: []string{"1883/tcp"},
			WaitingFor:   wait.ForListeningPort("1883/tcp"),
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.brokerContainer = brokerContainer

	host, err := brokerContainer.Host(ctx)
	s.Require().NoError(err)
	port, err := brokerContainer.MappedPort(ctx, "1883")
	s.Require().NoError(err)
	s.brokerURL = fmt.Sprintf("tcp://%s:%s", host, port.Port())
}

func (s *AppIntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.brokerContainer != nil {
		s.Require().NoError(s.brokerContainer.Terminate(ctx))
	}
	if s.influxDBContainer != nil {
		s.Require().NoError(s.influxDBContainer.Terminate(ctx))
	}
}

func (s *AppIntegrationTestSuite) loadConfig() *config.Config {
	cfg, err := config.Parse([]byte(fmt.Sprintf(`
hub:
  broker: %s
  client_id: bridge-under-test
influxdb:
  url: %s
  token: %s
  organization: %s
  bucket: %s
cache:
  directory: %s
`, s.brokerURL, s.influxDBURL, testToken, testOrg, testBucket, s.T().TempDir())))
	s.Require().NoError(err)
	return cfg
}

func (s *AppIntegrationTestSuite) publish(topic, payload string) {
	opts := mqtt.NewClientOptions().AddBroker(s.brokerURL).SetClientID("hub-simulator")
	client := mqtt.NewClient(opts)
	token := client.Connect()
	s.Require().True(token.WaitTimeout(5 * time.Second))
	s.Require().NoError(token.Error())
	defer client.Disconnect(100)

	token = client.Publish(topic, 1, false, payload)
	s.Require().True(token.WaitTimeout(5 * time.Second))
	s.Require().NoError(token.Error())
}

func (s *AppIntegrationTestSuite) TestHubEventReachesInfluxDB() {
	cfg := s.loadConfig()

	application, err := app.New(cfg, "0", "")
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() { done <- application.Run() }()
	defer func() {
		application.Shutdown()
		select {
		case err := <-done:
			s.NoError(err)
		case <-time.After(10 * time.Second):
			s.T().Fatal("App did not shut down gracefully")
		}
	}()

	reader, err := storage.NewInfluxDBStorage(s.influxDBURL, testToken, testOrg, testBucket)
	s.Require().NoError(err)
	defer reader.Close()

	// P2 carries 42.0 as an IEEE-754 bit pattern.
	snapshot := `{"agt":"hub1","me":"2d11","devtype":"SL_OE_3C","name":"Kettle",` +
		`"data":{"P1":{"type":129,"val":1},"P2":{"type":2,"val":1109917696}}}`

	// The subscription may not be active on the first publish.
	s.Require().Eventually(func() bool {
		s.publish("lifesmart/hub1/events", snapshot)
		got, err := reader.QueryLatestState(context.Background(), "hub1", "2d11", "P2")
		return err == nil && got != nil && got.Value.Value == 42.0
	}, 30*time.Second, time.Second)

	got, err := reader.QueryLatestState(context.Background(), "hub1", "2d11", "P1")
	s.Require().NoError(err)
	s.Require().NotNil(got)
	s.Equal(true, got.Value.Value)
}

func (s *AppIntegrationTestSuite) TestShutdownOnStop() {
	application, err := app.New(s.loadConfig(), "0", "")
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() { done <- application.Run() }()

	time.Sleep(time.Second)
	application.Shutdown()

	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(10 * time.Second):
		s.T().Fatal("App did not shut down gracefully")
	}
}
