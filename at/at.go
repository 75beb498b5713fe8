package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "

	// Final Result Codes
	OK         = "OK"
	ERROR      = "ERROR"
	NoCarrier  = "NO CARRIER"
	NoDialtone = "NO DIALTONE"
	Busy       = "BUSY"
	NoAnswer   = "NO ANSWER"
	CmeError   = "+CME ERROR"
	CmsError   = "+CMS ERROR"
)

// Tags of the final result codes the command engine resolves on,
// precomputed for dispatch.
var (
	TagOK       = Hash(OK)
	TagError    = Hash(ERROR)
	TagCmeError = Hash(CmeError)
	TagCmsError = Hash(CmsError)
)
