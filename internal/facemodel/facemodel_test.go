package facemodel

import (
	"context"
	"testing"
)

func TestStubReportsNoFaceForEmptyImage(t *testing.T) {
	s := NewStub(64)
	dets, err := s.DetectAndEmbed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(dets) != 0 {
		t.Fatalf("expected zero detections, got %d", len(dets))
	}
}

func TestStubIsDeterministic(t *testing.T) {
	s := NewStub(32)
	img := []byte("fixture-image-bytes")
	d1, _ := s.DetectAndEmbed(context.Background(), img)
	d2, _ := s.DetectAndEmbed(context.Background(), img)
	if len(d1) != 1 || len(d2) != 1 {
		t.Fatalf("expected one detection each, got %d and %d", len(d1), len(d2))
	}
	for i := range d1[0].Embedding {
		if d1[0].Embedding[i] != d2[0].Embedding[i] {
			t.Fatalf("expected deterministic embeddings, diverged at %d", i)
		}
	}
}

func TestStubDistinctImagesProduceDistinctEmbeddings(t *testing.T) {
	s := NewStub(32)
	d1, _ := s.DetectAndEmbed(context.Background(), []byte("aaaaaaaa"))
	d2, _ := s.DetectAndEmbed(context.Background(), []byte("bbbbbbbb"))
	same := true
	for i := range d1[0].Embedding {
		if d1[0].Embedding[i] != d2[0].Embedding[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected distinct embeddings for distinct images")
	}
}
