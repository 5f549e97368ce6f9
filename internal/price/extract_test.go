package price

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtract_Membership(t *testing.T) {
	f := Extract("헬스장 안내: 회원권 월 50,000원, 주차 가능")
	assert.Equal(t, "50,000원", f.MembershipPrice)
	assert.Contains(t, f.Matched, CategoryMembership)
	assert.InDelta(t, 0.9, f.Confidence, 0.001)
}

func TestExtract_MembershipPerMonth(t *testing.T) {
	f := Extract("Unlimited access $49.99/month")
	assert.Equal(t, "$49.99", f.MembershipPrice)
	assert.InDelta(t, 0.8, f.Confidence, 0.001)
}

func TestExtract_PersonalTraining(t *testing.T) {
	f := Extract("PT 10회 500,000원")
	assert.Equal(t, "500,000원", f.PTPrice)
	assert.Contains(t, f.Matched, CategoryPT)
}

func TestExtract_GroupAndDayPass(t *testing.T) {
	f := Extract("Yoga class $15. Day pass $20.")
	assert.Equal(t, "$15", f.GroupClassPrice)
	assert.Equal(t, "$20", f.DayPassPrice)
	assert.InDelta(t, 0.85, f.Confidence, 0.001)
}

func TestExtract_Minimum(t *testing.T) {
	f := Extract("Plans starting at $29 for students")
	assert.Equal(t, "$29", f.MinimumPrice)
	assert.Contains(t, f.Matched, CategoryMinimum)
}

func TestExtract_MinimumKorean(t *testing.T) {
	f := Extract("30,000원부터 이용 가능")
	assert.Equal(t, "30,000원", f.MinimumPrice)
}

func TestExtract_Range(t *testing.T) {
	f := Extract("가격대 50,000원~80,000원")
	assert.Equal(t, "50,000원 - 80,000원", f.PriceRange)
	assert.InDelta(t, 0.8, f.Confidence, 0.001)
}

func TestExtract_GenericOnlyWhenNothingElse(t *testing.T) {
	f := Extract("문의 시 안내드립니다 70000원")
	assert.Equal(t, "70000원", f.GenericPrice)
	assert.Equal(t, []Category{CategoryGeneric}, f.Matched)
	assert.InDelta(t, 0.3, f.Confidence, 0.001)

	f = Extract("monthly $40, also $10 towels")
	assert.Empty(t, f.GenericPrice)
	assert.NotContains(t, f.Matched, CategoryGeneric)
}

func TestExtract_FullWidthDigits(t *testing.T) {
	f := Extract("회원권 ５０,０００원")
	assert.Equal(t, "50,000원", f.MembershipPrice)
}

func TestExtract_Discount(t *testing.T) {
	f := Extract("Membership $60 per month. 20% off for new members! Special price this week")
	assert.Contains(t, f.Discount, "20% off")
	assert.Contains(t, f.Discount, "Special price")
	// Discounts never raise confidence.
	assert.InDelta(t, 0.9, f.Confidence, 0.001)
}

func TestExtract_DiscountOnly(t *testing.T) {
	f := Extract("오픈 기념 특가 이벤트")
	assert.False(t, f.Found())
	assert.Equal(t, "특가", f.Discount)
	assert.Zero(t, f.Confidence)
}

func TestExtract_Empty(t *testing.T) {
	assert.Equal(t, Facts{}, Extract(""))
	assert.Equal(t, Facts{}, Extract("   "))
}

func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"회원권 월 50,000원, PT 10회 500,000원, 일일권 10,000원, 10% 할인",
		"Day pass $20, group classes $15, starting at $29, $30 - $50",
		"nothing here",
		"",
	}
	for _, in := range inputs {
		assert.Equal(t, Extract(in), Extract(in), in)
	}
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("50,000원"), Key("50000 원"))
	assert.Equal(t, Key("$49"), Key(" $49 "))
	assert.NotEqual(t, Key("$49"), Key("$59"))
}
