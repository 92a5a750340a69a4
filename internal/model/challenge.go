package model

import "time"

// CaptchaChallenge is a short-lived proof-of-humanity puzzle bound to a
// single queue ticket.  A challenge is single-use: verifying it consumes
// it regardless of outcome, and a ticket may hold at most one live
// challenge at a time.
//
// Fields:
//  Token        – opaque challenge token returned to the client.
//  TicketID     – queue ticket the challenge is bound to.
//  ImagePNG     – rendered puzzle image, PNG bytes.
//  AnswerDigest – bcrypt digest of the expected answer; the plaintext
//                 answer is never stored.
//  CreatedAt    – issue time, UTC.
//  ExpiresAt    – deadline after which verification returns EXPIRED.
//  AttemptsUsed – verification attempts consumed against this ticket's
//                 ready window (informational).
type CaptchaChallenge struct {
	Token        string    // challenge token (UUID)
	TicketID     string    // bound queue ticket
	ImagePNG     []byte    // puzzle image
	AnswerDigest string    // bcrypt digest of the answer
	CreatedAt    time.Time // issue time
	ExpiresAt    time.Time // expiry deadline
	AttemptsUsed int       // attempts consumed so far for the ticket
}

// VerifyResult is the outcome of consuming a captcha challenge.
type VerifyResult string

const (
	VerifyOK       VerifyResult = "OK"       // answer matched
	VerifyMismatch VerifyResult = "MISMATCH" // answer did not match
	VerifyExpired  VerifyResult = "EXPIRED"  // challenge or ticket expired
)
