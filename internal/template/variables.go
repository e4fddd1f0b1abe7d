package template

import (
	"fmt"
	"math/rand"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Variable is a dynamic placeholder kind
type Variable int

const (
	VarRandomUUID Variable = iota + 1
	VarGUID
	VarRandomFirstName
	VarRandomLastName
	VarRandomFullName
	VarRandomUserName
	VarRandomEmail
	VarRandomURL
	VarRandomIP
	VarRandomIPv6
	VarRandomSlug
	VarRandomHexColor
	VarRandomInt
	VarRandomFloat
	VarRandomBoolean
	VarTimestamp
	VarISOTimestamp
	VarRandomDate
	VarRandomDatetime
	VarRandomCity
	VarRandomCountry
	VarRandomStreetAddress
	VarRandomZipCode
	VarRandomLatitude
	VarRandomLongitude
	VarRandomCompanyName
	VarRandomPhoneNumber
	VarRandomJobTitle
	VarRandomLoremSentence
	VarRandomLoremParagraph
	VarRandomWord
	VarRandomImageURL
	VarRandomAvatarURL
)

// VariableInfo describes a dynamic variable for autocomplete
type VariableInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type variableDef struct {
	kind        Variable
	name        string
	description string
}

var variableDefs = []variableDef{
	{VarRandomUUID, "$randomUUID", "Random UUID v4"},
	{VarGUID, "$guid", "Alias for $randomUUID"},
	{VarRandomFirstName, "$randomFirstName", "Random first name"},
	{VarRandomLastName, "$randomLastName", "Random last name"},
	{VarRandomFullName, "$randomFullName", "Random full name"},
	{VarRandomUserName, "$randomUserName", "Random username"},
	{VarRandomEmail, "$randomEmail", "Random email address"},
	{VarRandomURL, "$randomUrl", "Random URL"},
	{VarRandomIP, "$randomIP", "Random IPv4 address"},
	{VarRandomIPv6, "$randomIPv6", "Random IPv6 address"},
	{VarRandomSlug, "$randomSlug", "Random URL slug"},
	{VarRandomHexColor, "$randomHexColor", "Random hex color code"},
	{VarRandomInt, "$randomInt", "Random integer (0-9999)"},
	{VarRandomFloat, "$randomFloat", "Random float (0-1000)"},
	{VarRandomBoolean, "$randomBoolean", "Random true/false"},
	{VarTimestamp, "$timestamp", "Current Unix timestamp"},
	{VarISOTimestamp, "$isoTimestamp", "Current ISO 8601 timestamp"},
	{VarRandomDate, "$randomDate", "Random date (YYYY-MM-DD)"},
	{VarRandomDatetime, "$randomDatetime", "Random ISO datetime"},
	{VarRandomCity, "$randomCity", "Random city name"},
	{VarRandomCountry, "$randomCountry", "Random country name"},
	{VarRandomStreetAddress, "$randomStreetAddress", "Random street address"},
	{VarRandomZipCode, "$randomZipCode", "Random zip code"},
	{VarRandomLatitude, "$randomLatitude", "Random latitude"},
	{VarRandomLongitude, "$randomLongitude", "Random longitude"},
	{VarRandomCompanyName, "$randomCompanyName", "Random company name"},
	{VarRandomPhoneNumber, "$randomPhoneNumber", "Random phone number"},
	{VarRandomJobTitle, "$randomJobTitle", "Random job title"},
	{VarRandomLoremSentence, "$randomLoremSentence", "Random lorem ipsum sentence"},
	{VarRandomLoremParagraph, "$randomLoremParagraph", "Random lorem ipsum paragraph"},
	{VarRandomWord, "$randomWord", "Random lorem word"},
	{VarRandomImageURL, "$randomImageUrl", "Random image URL (picsum)"},
	{VarRandomAvatarURL, "$randomAvatarUrl", "Random avatar URL"},
}

var variablesByName = func() map[string]Variable {
	m := make(map[string]Variable, len(variableDefs))
	for _, d := range variableDefs {
		m[d.name] = d.kind
	}
	return m
}()

// ParseVariable returns the variable named name, including its $ prefix
func ParseVariable(name string) (Variable, bool) {
	v, ok := variablesByName[name]
	return v, ok
}

func (v Variable) String() string {
	for _, d := range variableDefs {
		if d.kind == v {
			return d.name
		}
	}
	return "unknown"
}

// Catalogue lists every dynamic variable with its description
func Catalogue() []VariableInfo {
	out := make([]VariableInfo, len(variableDefs))
	for i, d := range variableDefs {
		out[i] = VariableInfo{Name: d.name, Description: d.description}
	}
	return out
}

var (
	firstNames  = []string{"James", "Emma", "Liam", "Olivia", "Noah", "Ava", "Ethan", "Sophia", "Mason", "Isabella", "Lucas", "Mia", "Logan", "Charlotte", "Alexander"}
	lastNames   = []string{"Smith", "Johnson", "Williams", "Brown", "Jones", "Garcia", "Miller", "Davis", "Rodriguez", "Martinez", "Wilson", "Anderson", "Taylor", "Thomas", "Moore"}
	domains     = []string{"example.com", "test.io", "mock.dev", "sample.org", "demo.net"}
	loremWords  = []string{"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit", "sed", "do", "eiusmod", "tempor", "incididunt", "ut", "labore", "et", "dolore", "magna", "aliqua"}
	companies   = []string{"Acme Corp", "Globex", "Initech", "Umbrella Inc", "Stark Industries", "Wayne Enterprises", "Cyberdyne", "Soylent Corp"}
	streets     = []string{"Main St", "Oak Ave", "Maple Dr", "Cedar Ln", "Pine Rd", "Elm St", "Washington Blvd", "Park Ave"}
	cities      = []string{"New York", "Los Angeles", "Chicago", "Houston", "Phoenix", "San Francisco", "Seattle", "Austin", "Denver", "Boston"}
	countries   = []string{"United States", "United Kingdom", "Canada", "Australia", "Germany", "France", "Japan", "South Korea"}
	jobTitles   = []string{"Engineer", "Designer", "Manager", "Analyst", "Developer", "Consultant", "Director"}
	oneYearInMs = int(365 * 24 * time.Hour / time.Millisecond)
)

// variablePattern matches {{$name}} without arguments
var variablePattern = regexp.MustCompile(`\{\{\s*(\$\w+)\s*\}\}`)

// Generator produces random values for dynamic variables. It is safe for
// concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator creates a generator seeded from the clock
func NewGenerator() *Generator {
	return NewSeededGenerator(time.Now().UnixNano(), time.Now)
}

// NewSeededGenerator creates a generator with a fixed seed and clock
func NewSeededGenerator(seed int64, now func() time.Time) *Generator {
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		now: now,
	}
}

// Resolve replaces {{$name}} placeholders with generated values. Unknown
// names are left untouched.
func (g *Generator) Resolve(template string) string {
	return g.resolve(newSegments(template)).String()
}

func (g *Generator) resolve(s segments) segments {
	return s.substitute(variablePattern, func(match []string) (string, bool) {
		v, ok := ParseVariable(match[1])
		if !ok {
			return "", false
		}
		return g.Generate(v), true
	})
}

// intn returns a random int in [0, n)
func (g *Generator) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Intn(n)
}

func (g *Generator) float() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}

// between returns a random int in [min, max]
func (g *Generator) between(min, max int) int {
	return min + g.intn(max-min+1)
}

func (g *Generator) pick(items []string) string {
	return items[g.intn(len(items))]
}

func (g *Generator) pastTime() time.Time {
	return g.now().UTC().Add(-time.Duration(g.between(0, oneYearInMs)) * time.Millisecond)
}

func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func (g *Generator) loremSentence() string {
	words := make([]string, g.between(6, 14))
	for i := range words {
		words[i] = g.pick(loremWords)
	}
	words[0] = strings.ToUpper(words[0][:1]) + words[0][1:]
	return strings.Join(words, " ") + "."
}

// Generate returns a fresh value for v
func (g *Generator) Generate(v Variable) string {
	switch v {
	case VarRandomUUID, VarGUID:
		return uuid.New().String()
	case VarRandomFirstName:
		return g.pick(firstNames)
	case VarRandomLastName:
		return g.pick(lastNames)
	case VarRandomFullName:
		return g.pick(firstNames) + " " + g.pick(lastNames)
	case VarRandomUserName:
		return strings.ToLower(g.pick(firstNames)) + strconv.Itoa(g.between(1, 999))
	case VarRandomEmail:
		return fmt.Sprintf("%s.%s%d@%s", strings.ToLower(g.pick(firstNames)), strings.ToLower(g.pick(lastNames)), g.between(1, 99), g.pick(domains))
	case VarRandomURL:
		return fmt.Sprintf("https://%s/%s/%s", g.pick(domains), g.pick(loremWords), g.pick(loremWords))
	case VarRandomIP:
		return fmt.Sprintf("%d.%d.%d.%d", g.between(1, 254), g.between(0, 255), g.between(0, 255), g.between(1, 254))
	case VarRandomIPv6:
		groups := make([]string, 8)
		for i := range groups {
			groups[i] = fmt.Sprintf("%04x", g.between(0, 0xffff))
		}
		return strings.Join(groups, ":")
	case VarRandomSlug:
		return strings.Join([]string{g.pick(loremWords), g.pick(loremWords), g.pick(loremWords)}, "-")
	case VarRandomHexColor:
		return fmt.Sprintf("#%06x", g.between(0, 0xffffff))
	case VarRandomInt:
		return strconv.Itoa(g.between(0, 9999))
	case VarRandomFloat:
		return fmt.Sprintf("%.2f", g.float()*1000)
	case VarRandomBoolean:
		return strconv.FormatBool(g.float() > 0.5)
	case VarTimestamp:
		return strconv.FormatInt(g.now().Unix(), 10)
	case VarISOTimestamp:
		return isoTime(g.now())
	case VarRandomDate:
		return g.pastTime().Format("2006-01-02")
	case VarRandomDatetime:
		return isoTime(g.pastTime())
	case VarRandomCity:
		return g.pick(cities)
	case VarRandomCountry:
		return g.pick(countries)
	case VarRandomStreetAddress:
		return fmt.Sprintf("%d %s", g.between(1, 9999), g.pick(streets))
	case VarRandomZipCode:
		return strconv.Itoa(g.between(10000, 99999))
	case VarRandomLatitude:
		return fmt.Sprintf("%.6f", g.float()*180-90)
	case VarRandomLongitude:
		return fmt.Sprintf("%.6f", g.float()*360-180)
	case VarRandomCompanyName:
		return g.pick(companies)
	case VarRandomPhoneNumber:
		return fmt.Sprintf("+1-%d-%d-%d", g.between(200, 999), g.between(100, 999), g.between(1000, 9999))
	case VarRandomJobTitle:
		return g.pick(jobTitles)
	case VarRandomLoremSentence:
		return g.loremSentence()
	case VarRandomLoremParagraph:
		sentences := make([]string, g.between(3, 6))
		for i := range sentences {
			sentences[i] = g.loremSentence()
		}
		return strings.Join(sentences, " ")
	case VarRandomWord:
		return g.pick(loremWords)
	case VarRandomImageURL:
		return fmt.Sprintf("https://picsum.photos/id/%d/400/300", g.between(1, 200))
	case VarRandomAvatarURL:
		return fmt.Sprintf("https://i.pravatar.cc/150?u=%d", g.between(1, 999))
	}
	return ""
}
