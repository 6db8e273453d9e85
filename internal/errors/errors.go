package errors

import "sync"

var (
	defaultHandler *ErrorHandler
	defaultErr     error
	once           sync.Once
)

// GetDefaultHandler lazily builds the process-wide handler used by main.
// Library code takes a handler or logger explicitly instead.
func GetDefaultHandler() (*ErrorHandler, error) {
	once.Do(func() {
		defaultHandler, defaultErr = NewErrorHandler()
	})
	return defaultHandler, defaultErr
}

// HandleError reports err through the default handler, falling back to a
// console-only handler when the log file cannot be opened.
func HandleError(err error) {
	handler, handlerErr := GetDefaultHandler()
	if handlerErr != nil {
		handler = NewConsoleHandler()
	}
	handler.Handle(err)
}

// resetDefaultHandler resets the singleton for testing purposes
func resetDefaultHandler() {
	if defaultHandler != nil {
		_ = defaultHandler.Close()
	}
	defaultHandler = nil
	defaultErr = nil
	once = sync.Once{}
}
