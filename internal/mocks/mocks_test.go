package mocks_test

import (
	"github.com/xkilldash9x/scalpel-vapt/api/schemas"
	"github.com/xkilldash9x/scalpel-vapt/internal/config"
	"github.com/xkilldash9x/scalpel-vapt/internal/mocks"
)

var (
	_ config.Interface         = (*mocks.MockConfig)(nil)
	_ schemas.Scanner          = (*mocks.MockScanner)(nil)
	_ schemas.EventLog         = (*mocks.MockEventLog)(nil)
	_ schemas.ResultsStore     = (*mocks.MockResultsStore)(nil)
	_ schemas.InsightGenerator = (*mocks.MockInsightGenerator)(nil)
)
