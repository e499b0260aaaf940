package api

import (
	"log"
	"net/http"
	"os"

	"github.com/famledger/famledger-server/service/budget"
	"github.com/famledger/famledger-server/service/goals"
	"github.com/famledger/famledger-server/service/household"
	"github.com/famledger/famledger-server/service/transactions"
	"github.com/famledger/famledger-server/service/user"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type APIServer struct {
	address string
	db      *gorm.DB
}

func NewApiServer(address string, db *gorm.DB) *APIServer {
	return &APIServer{
		address: address,
		db:      db,
	}
}

func (s *APIServer) Run() error {
	router := mux.NewRouter()
	subrouter := router.PathPrefix("/api/v1").Subrouter()

	userHandler := user.NewHandler(s.db)
	userHandler.RegisterRoutes(subrouter)

	householdHandler := household.NewHandler(s.db)
	householdHandler.RegisterRoutes(subrouter)

	transactionHandler := transactions.NewTransactionHandler(s.db)
	transactionHandler.RegisterRoutes(subrouter)

	goalHandler := goals.NewGoalHandler(s.db)
	goalHandler.RegisterRoutes(subrouter)

	budgetHandler := budget.NewBudgetHandler(s.db)
	budgetHandler.RegisterRoutes(subrouter)

	cors := handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)

	log.Println("Server running at", s.address)
	return http.ListenAndServe(s.address, handlers.LoggingHandler(os.Stdout, cors(router)))
}
