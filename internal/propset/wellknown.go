package propset

import "github.com/google/uuid"

// Format identifiers of the two standard Office property sections.
var (
	FMTIDSummaryInformation    = uuid.MustParse("F29F85E0-4FF9-1068-AB91-08002B27B3D9")
	FMTIDDocSummaryInformation = uuid.MustParse("D5CDD502-2E9C-101B-9397-08002B2CF9AE")
	FMTIDUserDefinedProperties = uuid.MustParse("D5CDD505-2E9C-101B-9397-08002B2CF9AE")
)

// Well-known property IDs for the SummaryInformation section.
const (
	PIDTitle       = 2
	PIDSubject     = 3
	PIDAuthor      = 4
	PIDKeywords    = 5
	PIDComments    = 6
	PIDTemplate    = 7
	PIDLastAuthor  = 8
	PIDRevision    = 9
	PIDEditTime    = 10
	PIDLastPrinted = 11
	PIDCreated     = 12
	PIDLastSaved   = 13
	PIDPageCount   = 14
	PIDWordCount   = 15
	PIDCharCount   = 16
	PIDAppName     = 18
	PIDSecurity    = 19
)

var summaryNames = map[uint32]string{
	pidCodepage:    "Codepage",
	PIDTitle:       "Title",
	PIDSubject:     "Subject",
	PIDAuthor:      "Author",
	PIDKeywords:    "Keywords",
	PIDComments:    "Comments",
	PIDTemplate:    "Template",
	PIDLastAuthor:  "LastSavedBy",
	PIDRevision:    "RevisionNumber",
	PIDEditTime:    "TotalEditTime",
	PIDLastPrinted: "LastPrinted",
	PIDCreated:     "CreateTime",
	PIDLastSaved:   "LastSavedTime",
	PIDPageCount:   "Pages",
	PIDWordCount:   "Words",
	PIDCharCount:   "Characters",
	17:             "Thumbnail",
	PIDAppName:     "Application",
	PIDSecurity:    "Security",
}

var docSummaryNames = map[uint32]string{
	pidCodepage: "Codepage",
	2:           "Category",
	3:           "PresentationFormat",
	4:           "Bytes",
	5:           "Lines",
	6:           "Paragraphs",
	7:           "Slides",
	8:           "Notes",
	9:           "HiddenSlides",
	10:          "MMClips",
	11:          "ScaleCrop",
	12:          "HeadingPairs",
	13:          "TitlesOfParts",
	14:          "Manager",
	15:          "Company",
	16:          "LinksUpToDate",
	17:          "CharactersWithSpaces",
	19:          "SharedDoc",
	23:          "AppVersion",
}

func propertyName(fmtid uuid.UUID, pid uint32) string {
	switch fmtid {
	case FMTIDSummaryInformation:
		return summaryNames[pid]
	case FMTIDDocSummaryInformation:
		return docSummaryNames[pid]
	}
	return ""
}
