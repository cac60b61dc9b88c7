package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("FACE_MODEL", "")
	t.Setenv("MATCH_THRESHOLD", "")
	t.Setenv("EMBEDDING_DIM", "")

	cfg := Load()

	if cfg.FaceService.Model != "facenet512" {
		t.Errorf("expected default model 'facenet512', got '%s'", cfg.FaceService.Model)
	}
	if cfg.Recognition.Dim != 512 {
		t.Errorf("expected default embedding dim 512, got %d", cfg.Recognition.Dim)
	}
	if cfg.Recognition.Threshold != 0.6 {
		t.Errorf("expected default threshold 0.6, got %f", cfg.Recognition.Threshold)
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected default max open conns 25, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns != 5 {
		t.Errorf("expected default max idle conns 5, got %d", cfg.Database.MaxIdleConns)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected default web port 8080, got %d", cfg.Web.Port)
	}
	if cfg.Web.Host != "0.0.0.0" {
		t.Errorf("expected default web host '0.0.0.0', got '%s'", cfg.Web.Host)
	}
}

func TestLoad_ModelProfile(t *testing.T) {
	t.Setenv("FACE_MODEL", "arcface")
	t.Setenv("MATCH_THRESHOLD", "")
	t.Setenv("EMBEDDING_DIM", "")

	cfg := Load()

	if cfg.Recognition.Dim != 512 {
		t.Errorf("expected arcface dim 512, got %d", cfg.Recognition.Dim)
	}
	if cfg.Recognition.Threshold != 0.68 {
		t.Errorf("expected arcface threshold 0.68, got %f", cfg.Recognition.Threshold)
	}
	if cfg.Recognition.MinDetScore != 0.9 {
		t.Errorf("expected arcface min det score 0.9, got %f", cfg.Recognition.MinDetScore)
	}
}

func TestLoad_ThresholdOverride(t *testing.T) {
	t.Setenv("FACE_MODEL", "facenet512")
	t.Setenv("MATCH_THRESHOLD", "0.45")

	cfg := Load()

	if cfg.Recognition.Threshold != 0.45 {
		t.Errorf("expected threshold override 0.45, got %f", cfg.Recognition.Threshold)
	}
}

func TestLoad_InvalidThresholdFallsBack(t *testing.T) {
	t.Setenv("FACE_MODEL", "facenet512")
	t.Setenv("MATCH_THRESHOLD", "not-a-number")

	cfg := Load()

	if cfg.Recognition.Threshold != 0.6 {
		t.Errorf("expected fallback threshold 0.6, got %f", cfg.Recognition.Threshold)
	}
}

func TestLoad_UnknownModelKeepsSaneDefaults(t *testing.T) {
	t.Setenv("FACE_MODEL", "mystery-model")
	t.Setenv("MATCH_THRESHOLD", "")
	t.Setenv("EMBEDDING_DIM", "")

	cfg := Load()

	if cfg.Recognition.Dim != 512 {
		t.Errorf("expected fallback dim 512 for unknown model, got %d", cfg.Recognition.Dim)
	}
	if cfg.Recognition.Threshold != 0.6 {
		t.Errorf("expected fallback threshold 0.6 for unknown model, got %f", cfg.Recognition.Threshold)
	}
}

func TestLoad_EnvInt(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "50")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "-3")

	cfg := Load()

	if cfg.Database.MaxOpenConns != 50 {
		t.Errorf("expected max open conns 50, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns != 5 {
		t.Errorf("expected negative value to fall back to 5, got %d", cfg.Database.MaxIdleConns)
	}
}

func TestProfile_Unknown(t *testing.T) {
	cfg := Load()

	p := cfg.Profile("does-not-exist")
	if p.Dim != 512 || p.Threshold != 0.6 {
		t.Errorf("expected fallback profile, got %+v", p)
	}
}
