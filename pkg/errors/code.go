package errors

// ErrorCode represents a unique error code for each error type
type ErrorCode int

// Error code ranges:
//
//	10000-10999: System & common errors
//	11000-11999: Identity & token errors
//	12000-12999: Problem store errors
//	13000-13999: Submission & judge errors
//	14000-14999: Battle errors
const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success indicates no error
	Success ErrorCode = 10000

	// Generic errors (10001-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	Unauthorized        ErrorCode = 10004
	Forbidden           ErrorCode = 10005
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Database errors (10100-10199)
	DatabaseError       ErrorCode = 10100
	RecordNotFound      ErrorCode = 10101
	RecordAlreadyExists ErrorCode = 10102
	TransactionFailed   ErrorCode = 10103

	// Cache errors (10200-10299)
	CacheError ErrorCode = 10200

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Identity & Token Errors (11000-11999) ==========

	UserNotFound ErrorCode = 11001
	TokenExpired ErrorCode = 11003
	TokenInvalid ErrorCode = 11004

	// ========== Problem Store Errors (12000-12999) ==========

	ProblemNotFound    ErrorCode = 12000
	ProblemLoadFailed  ErrorCode = 12001
	ProblemPackInvalid ErrorCode = 12002

	// ========== Submission & Judge Errors (13000-13999) ==========

	SubmissionCreateFailed ErrorCode = 13001
	CodeTooLarge           ErrorCode = 13002
	LanguageNotSupported   ErrorCode = 13003

	JudgeQueueFull   ErrorCode = 13100
	JudgeSystemError ErrorCode = 13101
	SandboxUnavailable ErrorCode = 13102

	// ========== Battle Errors (14000-14999) ==========

	// Battle basic (14000-14099)
	BattleNotFound     ErrorCode = 14000
	BattleNotActive    ErrorCode = 14001
	BattleEnded        ErrorCode = 14002
	NotParticipant     ErrorCode = 14003
	ProblemNotInBattle ErrorCode = 14004

	// Battle requests (14100-14199)
	RequestNotFound       ErrorCode = 14100
	RequestExpired        ErrorCode = 14101
	RequestAlreadyPending ErrorCode = 14102
	AlreadyInBattle       ErrorCode = 14103
	OpponentInBattle      ErrorCode = 14104
	SelfChallenge         ErrorCode = 14105
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	Unauthorized:        "Unauthorized access",
	Forbidden:           "Access forbidden",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Database
	DatabaseError:       "Database operation failed",
	RecordNotFound:      "Record not found in database",
	RecordAlreadyExists: "Record already exists",
	TransactionFailed:   "Database transaction failed",

	// Cache
	CacheError: "Cache operation failed",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Identity
	UserNotFound: "User not found",
	TokenExpired: "Token has expired",
	TokenInvalid: "Invalid token",

	// Problem store
	ProblemNotFound:    "Problem not found",
	ProblemLoadFailed:  "Failed to load problem data",
	ProblemPackInvalid: "Problem test-case pack is invalid",

	// Submission & judge
	SubmissionCreateFailed: "Failed to create submission",
	CodeTooLarge:           "Code is too large",
	LanguageNotSupported:   "Programming language not supported",
	JudgeQueueFull:         "Judge queue is full, please try again later",
	JudgeSystemError:       "Judge system error",
	SandboxUnavailable:     "Sandbox backend is unavailable",

	// Battle
	BattleNotFound:     "Battle not found",
	BattleNotActive:    "Battle is not active",
	BattleEnded:        "Battle has already ended",
	NotParticipant:     "You are not a participant of this battle",
	ProblemNotInBattle: "Problem is not part of this battle",

	RequestNotFound:       "Battle request not found or already handled",
	RequestExpired:        "Battle request has expired",
	RequestAlreadyPending: "You already have a pending request to this user",
	AlreadyInBattle:       "You are already in an active battle",
	OpponentInBattle:      "That user is already in an active battle",
	SelfChallenge:         "You cannot challenge yourself",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == Unauthorized, c == TokenExpired, c == TokenInvalid:
		return 401
	case c == Forbidden, c == NotParticipant:
		return 403
	case c == NotFound, c == UserNotFound, c == ProblemNotFound,
		c == BattleNotFound, c == RequestNotFound:
		return 404
	case c == TooManyRequests, c == JudgeQueueFull:
		return 429
	case c == ServiceUnavailable, c == SandboxUnavailable:
		return 503
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c >= 14100 && c < 14200:
		return 400
	case c == BattleNotActive, c == BattleEnded, c == ProblemNotInBattle:
		return 400
	case c == CodeTooLarge, c == LanguageNotSupported:
		return 400
	default:
		return 500
	}
}
