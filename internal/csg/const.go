package csg

// Vendor constants recovered from the 95598.csg.cn web app bundles.
// The crypto key material is deliberately not here; it is supplied via
// configuration (see config.VendorConfig).

const (
	// DefaultBaseURL is the production endpoint shared by both channels.
	DefaultBaseURL = "https://95598.csg.cn"

	logonChannelOnlineHall   = "3" // web portal
	logonChannelHandheldHall = "4" // mobile app

	credTypePhonePassword = "10"
	credTypePhoneSMSCode  = "11"

	sendMsgTypeVerificationCode = "1"
	verificationCodeTypeLogin   = "1"

	headerAuthToken  = "x-auth-token"
	headerCustNumber = "custNumber"

	// envelope field carrying the symmetric ciphertext
	envelopeField = "param"
)

// Result codes in the decrypted response body ("sta" field).
const (
	respStaSuccess         = "00"
	respStaEmptyParameter  = "01"
	respStaSystemError     = "02"
	respStaNoLogin         = "04"
	respStaQRTimeout       = "00010001"
	respStaWrongCredential = "00010002"
	// Returned when the account requires an SMS one-time code on top of
	// the password before a session is issued.
	respStaNeedVerifyCode = "00010003"
)

// API operation paths, relative to <base>/ucs/ma/{wt|zt}/.
const (
	OpSendLoginSMS       = "center/sendMsg"
	OpLogin              = "center/login"
	OpLoginPwdAndMsg     = "center/loginByPwdAndMsg"
	OpLogout             = "center/logout"
	OpQueryAuthResult    = "user/queryAuthenticationResult"
	OpGetUserInfo        = "user/getUserInfo"
	OpQueryBindEleUsers  = "eleCustNumber/queryBindEleUsers"
	OpQueryMeteringPoint = "charge/queryMeteringPoint"
	OpQueryDayElectric   = "charge/queryDayElectricByMPoint"
	OpQueryDayCharge     = "charge/queryDayElectricChargeByMPoint"
	OpQuerySurplus       = "charge/queryUserAccountNumberSurplus"
	OpGetFeeAnalyze      = "charge/getAnalyzeFeeDetails"
	OpQueryYesterday     = "charge/queryDayElectricByMPointYesterday"
)

// DefaultAreaCodes maps the vendor's service regions to their area
// codes, for configuration convenience.
var DefaultAreaCodes = map[string]string{
	"guangzhou": "080000",
	"shenzhen":  "090000",
	"guangdong": "030000",
	"guangxi":   "040000",
	"yunnan":    "050000",
	"guizhou":   "060000",
	"hainan":    "070000",
}
