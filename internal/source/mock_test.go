package source

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/scrape"
	"github.com/sells-group/facility-cli/pkg/anthropic"
)

// --- Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, rawURL string) (*scrape.Page, error) {
	args := m.Called(ctx, rawURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*scrape.Page), args.Error(1)
}

// --- RecordLookup Mock ---

type mockRecords struct {
	mock.Mock
}

func (m *mockRecords) LatestRecord(ctx context.Context, entityKey string) (*model.CanonicalRecord, error) {
	args := m.Called(ctx, entityKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.CanonicalRecord), args.Error(1)
}

// --- Anthropic Client Mock ---

type mockLLM struct {
	mock.Mock
}

func (m *mockLLM) Complete(ctx context.Context, req anthropic.Request) (*anthropic.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.Response), args.Error(1)
}

func textResponse(text string) *anthropic.Response {
	return &anthropic.Response{
		Text:       text,
		StopReason: "end_turn",
		Usage:      anthropic.Usage{Input: 900, Output: 60},
	}
}

var ironGym = model.Entity{ID: "g1", Name: "아이언짐 강남점", Address: "서울 강남구 테헤란로 1"}

const ironGymPage = "아이언짐 강남점\n전화 02-555-1234\n운영시간 06:00 ~ 23:00\n헬스 이용권 월 회비 50,000원\n샤워실, 주차 가능, 운동복 제공"
