package aws

import (
	"context"
	"testing"

	appconfig "github.com/imrishuroy/storefront-ledger/internal/config"
)

func TestLoadAWSConfig_DefaultRegion(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Region != "us-east-1" {
		t.Fatalf("expected default region 'us-east-1', got %s", cfg.Region)
	}
	if cfg.BaseEndpoint != nil {
		t.Fatalf("expected no endpoint override, got %s", *cfg.BaseEndpoint)
	}
}

func TestLoadAWSConfig_WithEndpointOverride(t *testing.T) {
	cfg, err := LoadAWSConfig(context.Background(), "eu-west-1", "http://localhost:4566")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Region != "eu-west-1" {
		t.Fatalf("region mismatch, got %s", cfg.Region)
	}
	if cfg.BaseEndpoint == nil || *cfg.BaseEndpoint != "http://localhost:4566" {
		t.Fatalf("expected base endpoint override, got %v", cfg.BaseEndpoint)
	}
}

func TestNewAWSClients_UsesLoadedConfig(t *testing.T) {
	t.Setenv("AWS_REGION", "ap-south-1")
	t.Setenv("AWS_ENDPOINT_OVERRIDE", "http://localhost:4566")
	cfg, err := appconfig.Load()
	if err != nil {
		t.Fatalf("config.Load error: %v", err)
	}

	loaded, err := LoadAWSConfig(context.Background(), cfg.AWSRegion, cfg.EndpointOverride)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.Region != "ap-south-1" {
		t.Fatalf("region mismatch, got %s", loaded.Region)
	}
	if loaded.BaseEndpoint == nil || *loaded.BaseEndpoint != "http://localhost:4566" {
		t.Fatalf("expected base endpoint override, got %v", loaded.BaseEndpoint)
	}

	clients, err := NewAWSClients(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewAWSClients error: %v", err)
	}
	if clients.DynamoDB == nil || clients.SQS == nil || clients.CloudWatch == nil {
		t.Fatalf("expected all clients, got %+v", clients)
	}
}
