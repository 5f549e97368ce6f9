package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/resilience"
	"github.com/sells-group/facility-cli/internal/scrape"
)

func TestStoredRecord(t *testing.T) {
	recs := new(mockRecords)
	recs.On("LatestRecord", mock.Anything, "g1").Return(&model.CanonicalRecord{
		Facts:      model.Facts{Phone: "02-555-1234", OpenTime: "06:00", CloseTime: "23:00"},
		Name:       "아이언짐",
		Confidence: 0.9,
		Source:     model.CrossValidatedSource(3),
	}, nil)

	s := NewStoredRecord(recs)
	assert.True(t, s.Available())
	res, err := s.Execute(context.Background(), fallback.Context{Entity: ironGym})
	require.NoError(t, err)
	assert.Equal(t, StrategyStoredRecord, res.Source)
	assert.Equal(t, "02-555-1234", res.Phone)
	assert.Equal(t, ironGym.Name, res.Name, "echoes the input name")
	assert.InDelta(t, 0.45, res.Confidence, 0.0001)
	recs.AssertExpectations(t)
}

func TestStoredRecord_ConfidenceCapped(t *testing.T) {
	recs := new(mockRecords)
	recs.On("LatestRecord", mock.Anything, mock.Anything).Return(&model.CanonicalRecord{
		Facts:      model.Facts{Phone: "02-555-1234"},
		Confidence: 1.0,
	}, nil)

	res, err := NewStoredRecord(recs).Execute(context.Background(), fallback.Context{Entity: ironGym})
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Confidence, 0.5)
}

func TestStoredRecord_Missing(t *testing.T) {
	recs := new(mockRecords)
	recs.On("LatestRecord", mock.Anything, mock.Anything).Return(nil, nil).Once()
	recs.On("LatestRecord", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

	s := NewStoredRecord(recs)
	_, err := s.Execute(context.Background(), fallback.Context{Entity: ironGym})
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))

	_, err = s.Execute(context.Background(), fallback.Context{Entity: ironGym})
	require.Error(t, err)
	assert.False(t, resilience.IsPermanent(err))
	assert.Contains(t, err.Error(), "db down")
}

func TestStoredRecord_Unavailable(t *testing.T) {
	assert.False(t, NewStoredRecord(nil).Available())
}

func TestSimplifyName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"아이언짐 강남점", "아이언짐"},
		{"아이언짐 역삼2호점", "아이언짐"},
		{"스포애니 (선릉역)", "스포애니"},
		{"스포애니【신논현】 본점", "스포애니"},
		{"Iron Gym (Gangnam)", "Iron Gym"},
		{"Iron Gym Gangnam Branch", "Iron Gym"},
		{"Iron Gym Branch 2", "Iron Gym"},
		{"Iron  Gym", "Iron Gym"},
		{"짐", "짐"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SimplifyName(tt.in))
		})
	}
}

func TestNameVariant(t *testing.T) {
	f := new(mockFetcher)
	f.On("Fetch", mock.Anything, SearchURL(naverTemplate, "아이언짐", ironGym.Address)).
		Return(&scrape.Page{Text: ironGymPage}, nil)

	n := NewNameVariant(NewWebSearch("naver", naverTemplate, 0.8, f, nil))
	assert.True(t, n.Available())

	res, err := n.Execute(context.Background(), fallback.Context{Entity: ironGym, Failed: "naver"})
	require.NoError(t, err)
	assert.Equal(t, StrategyNameVariant, res.Source)
	assert.Equal(t, ironGym.Name, res.Name)
	assert.InDelta(t, 0.8*0.825/0.85*0.8, res.Confidence, 0.0001)
	f.AssertExpectations(t)
}

func TestNameVariant_NoVariant(t *testing.T) {
	f := new(mockFetcher)
	n := NewNameVariant(NewWebSearch("naver", naverTemplate, 0.8, f, nil))

	_, err := n.Execute(context.Background(), fallback.Context{Entity: model.Entity{Name: "Iron Gym"}})
	require.Error(t, err)
	assert.True(t, resilience.IsPermanent(err))
	f.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestNameVariant_Unavailable(t *testing.T) {
	assert.False(t, NewNameVariant(nil).Available())
}
