package reservation

import (
	"context"
	"strconv"
	"sync"

	"github.com/zhouzirui/foodbot/internal/model/schedule"
	sessionmodel "github.com/zhouzirui/foodbot/internal/model/session"
)

// twoDaySchedule has two days with one meal, one food and one price tier each.
const twoDaySchedule = `[
  {"DayDate":"1403/07/01","DayName":"شنبه","Meals":[
    {"Id":11,"MealName":"ناهار","FoodMenu":[
      {"FoodId":101,"FoodName":"چلو کباب","SelfMenu":[{"SelfId":1,"SelfName":"مرکزی","Price":25000,"Yarane":5000}]}
    ]}
  ]},
  {"DayDate":"1403/07/02","DayName":"یکشنبه","Meals":[
    {"Id":12,"MealName":"ناهار","FoodMenu":[
      {"FoodId":103,"FoodName":"جوجه کباب","SelfMenu":[{"SelfId":1,"SelfName":"مرکزی","Price":30000,"Yarane":5000}]}
    ]}
  ]}
]`

// repeatedKeySchedule lists the same meal, food and tier on two days, so
// both items share the key 11_101_1.
const repeatedKeySchedule = `[
  {"DayDate":"1403/07/01","DayName":"شنبه","Meals":[
    {"Id":11,"MealName":"ناهار","FoodMenu":[
      {"FoodId":101,"FoodName":"چلو کباب","SelfMenu":[{"SelfId":1,"SelfName":"مرکزی","Price":25000,"Yarane":5000}]}
    ]}
  ]},
  {"DayDate":"1403/07/02","DayName":"یکشنبه","Meals":[
    {"Id":11,"MealName":"ناهار","FoodMenu":[
      {"FoodId":101,"FoodName":"چلو کباب","SelfMenu":[{"SelfId":1,"SelfName":"مرکزی","Price":99000,"Yarane":5000}]}
    ]}
  ]}
]`

type delivered struct {
	op  string
	ref sessionmodel.MessageRef
	out Outbound
}

type fakeGateway struct {
	mu      sync.Mutex
	next    int
	log     []delivered
	deleted []sessionmodel.MessageRef
	editErr error
}

func (g *fakeGateway) Send(_ context.Context, userID string, out Outbound) (sessionmodel.MessageRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	ref := sessionmodel.MessageRef{ChatID: userID, MessageID: strconv.Itoa(g.next)}
	g.log = append(g.log, delivered{op: "send", ref: ref, out: out})
	return ref, nil
}

func (g *fakeGateway) Edit(_ context.Context, ref sessionmodel.MessageRef, out Outbound) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.editErr != nil {
		return g.editErr
	}
	g.log = append(g.log, delivered{op: "edit", ref: ref, out: out})
	return nil
}

func (g *fakeGateway) Delete(_ context.Context, ref sessionmodel.MessageRef) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleted = append(g.deleted, ref)
	return nil
}

func (g *fakeGateway) last() delivered {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.log) == 0 {
		return delivered{}
	}
	return g.log[len(g.log)-1]
}

func (g *fakeGateway) sends() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, d := range g.log {
		if d.op == "send" {
			n++
		}
	}
	return n
}

// fakePortal is a scripted portal client. authErrs are returned by
// successive Authenticate calls across all clients sharing the script.
type fakePortal struct {
	mu        sync.Mutex
	script    *portalScript
	closed    bool
	submitted []schedule.RawPayload
}

type portalScript struct {
	mu        sync.Mutex
	password  string
	authErrs  []error
	created   int
	catalog   []byte
	fetchErr  error
	submitErr error
	submit    schedule.Submission
	clients   []*fakePortal
}

func newScript() *portalScript {
	return &portalScript{
		password: "secret",
		catalog:  []byte(twoDaySchedule),
		submit:   schedule.Submission{Accepted: true, Message: "با موفقیت ثبت شد"},
	}
}

func (ps *portalScript) factory() (PortalClient, error) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.created++
	p := &fakePortal{script: ps}
	ps.clients = append(ps.clients, p)
	return p, nil
}

func (p *fakePortal) Authenticate(_ context.Context, _, password string) error {
	ps := p.script
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if len(ps.authErrs) > 0 {
		err := ps.authErrs[0]
		ps.authErrs = ps.authErrs[1:]
		if err != nil {
			return err
		}
	}
	if password != ps.password {
		return errInvalid
	}
	return nil
}

func (p *fakePortal) FetchSchedule(context.Context) (schedule.Catalog, error) {
	ps := p.script
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.fetchErr != nil {
		return schedule.Catalog{}, ps.fetchErr
	}
	return schedule.Normalize(ps.catalog)
}

func (p *fakePortal) SubmitReservation(_ context.Context, payload schedule.RawPayload) (schedule.Submission, error) {
	p.mu.Lock()
	p.submitted = append(p.submitted, payload)
	p.mu.Unlock()

	ps := p.script
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.submitErr != nil {
		return schedule.Submission{}, ps.submitErr
	}
	return ps.submit, nil
}

func (p *fakePortal) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

func (p *fakePortal) lastSubmitted() schedule.RawPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.submitted) == 0 {
		return nil
	}
	return p.submitted[len(p.submitted)-1]
}

func (ps *portalScript) current() *fakePortal {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.clients[len(ps.clients)-1]
}

func (p *fakePortal) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeNotifier struct {
	ch chan Confirmation
}

func (n *fakeNotifier) ReservationConfirmed(_ context.Context, c Confirmation) error {
	n.ch <- c
	return nil
}
