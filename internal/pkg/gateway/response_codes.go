package gateway

// responseCodeMessages maps the gateway's two-digit response codes to
// operator-readable failure reasons. "00" is the only success code.
var responseCodeMessages = map[string]string{
	"00": "Transaction successful",
	"07": "Money deducted, transaction suspected of fraud",
	"09": "Card not registered for online banking",
	"10": "Card authentication failed more than 3 times",
	"11": "Payment window expired",
	"12": "Card or account is locked",
	"13": "Wrong one-time password entered",
	"24": "Transaction cancelled by customer",
	"51": "Insufficient account balance",
	"65": "Daily transaction limit exceeded",
	"75": "Issuing bank is under maintenance",
	"79": "Wrong payment password entered too many times",
	"99": "Other error",
}

// ResponseCodeMessage returns the human-readable description for a gateway
// response code; unknown codes get a generic message.
func ResponseCodeMessage(code string) string {
	if msg, ok := responseCodeMessages[code]; ok {
		return msg
	}
	return "Unknown gateway response code " + code
}
