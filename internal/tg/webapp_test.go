package tg

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInitData() string {
	v := url.Values{}
	v.Set("query_id", "AAHdF6IQAAAAAN0XohDhrOrc")
	v.Set("user", `{"id":279058397,"first_name":"Vlad","username":"vdkfrost","language_code":"ru"}`)
	v.Set("auth_date", "1700000000")
	v.Set("start_param", "ref_ABC123")
	v.Set("hash", "c501b71e775f74ce10e377dea85a7ea24ecd640b223ea86dfe453e0eaed2e2b2")
	return v.Encode()
}

func TestParseInitData(t *testing.T) {
	d, err := ParseInitData(sampleInitData())
	require.NoError(t, err)

	assert.Equal(t, "AAHdF6IQAAAAAN0XohDhrOrc", d.QueryID)
	require.NotNil(t, d.User)
	assert.Equal(t, int64(279058397), d.UserID())
	assert.Equal(t, "vdkfrost", d.User.Username)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), d.AuthDate)
	assert.Equal(t, "ref_ABC123", d.StartParam)
	assert.Equal(t, time.Hour, d.Age(d.AuthDate.Add(time.Hour)))
}

func TestParseInitData_Errors(t *testing.T) {
	_, err := ParseInitData("  ")
	assert.ErrorIs(t, err, ErrEmptyInitData)

	_, err = ParseInitData("auth_date=yesterday")
	assert.Error(t, err)

	_, err = ParseInitData("user=%7Bnot-json")
	assert.Error(t, err)
}

func TestReferralCode(t *testing.T) {
	assert.Equal(t, "ABC123", ReferralCode("ref_ABC123"))
	assert.Equal(t, "", ReferralCode("promo_1"))
	assert.Equal(t, "", ReferralCode(""))
}

func TestLaunchParams(t *testing.T) {
	raw := url.QueryEscape(sampleInitData())

	q, f := LaunchParams("https://kina.example/app?tgWebAppData=" + raw + "&tgWebAppVersion=7.0")
	assert.Equal(t, sampleInitData(), q)
	assert.Empty(t, f)

	q, f = LaunchParams("https://kina.example/app#tgWebAppVersion=7.0&tgWebAppData=" + raw)
	assert.Empty(t, q)
	assert.Equal(t, sampleInitData(), f)

	q, f = LaunchParams("")
	assert.Empty(t, q)
	assert.Empty(t, f)
}
