package dispatcher

import (
	"github.com/gofiber/fiber/v2"

	"github.com/dreamware/worldmesh/internal/cluster"
	"github.com/dreamware/worldmesh/internal/geometry"
)

// loginRequest, moveRequest, aoeRequest, queryRequest and logoutRequest are
// the client-facing DTOs for the Dispatcher's public API (spec.md §6),
// validated with go-playground/validator the way the task DTOs in
// requests/request.go are.
// PlayerID is a plain uint64 with no positivity constraint — player 0 is a
// valid id (spec.md §8 scenarios log in players 0..8), so it carries no
// `required` tag: validator's required rejects the numeric zero value,
// which would wrongly reject player 0.
type loginRequest struct {
	PlayerID uint64  `json:"player_id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Money    uint64  `json:"money"`
}

type moveRequest struct {
	PlayerID uint64  `json:"player_id"`
	DX       float64 `json:"dx"`
	DY       float64 `json:"dy"`
}

type aoeRequest struct {
	PlayerID uint64  `json:"player_id"`
	Radius   float64 `json:"radius" validate:"gt=0"`
}

type queryRequest struct {
	XMin float64 `json:"xmin"`
	XMax float64 `json:"xmax"`
	YMin float64 `json:"ymin"`
	YMax float64 `json:"ymax"`
}

type logoutRequest struct {
	PlayerID uint64 `json:"player_id"`
}

// NewRouter builds the fiber app serving the Dispatcher's client-facing
// API, delegating every route to d.
func NewRouter(d *Dispatcher) *fiber.App {
	app := fiber.New()

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	app.Post("/login", d.handleLogin)
	app.Post("/move", d.handleMove)
	app.Post("/aoe", d.handleAOE)
	app.Post("/query", d.handleQuery)
	app.Post("/logout", d.handleLogout)

	return app
}

func (d *Dispatcher) handleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return writeFiberError(c, cluster.NewError(cluster.KindInvalidArgument, "malformed request body"))
	}
	if err := validateStruct(req); err != nil {
		return writeFiberError(c, err)
	}

	if err := d.Login(c.Context(), req.PlayerID, req.X, req.Y, req.Money); err != nil {
		return writeFiberError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (d *Dispatcher) handleMove(c *fiber.Ctx) error {
	var req moveRequest
	if err := c.BodyParser(&req); err != nil {
		return writeFiberError(c, cluster.NewError(cluster.KindInvalidArgument, "malformed request body"))
	}
	if err := validateStruct(req); err != nil {
		return writeFiberError(c, err)
	}

	x, y, err := d.Move(c.Context(), req.PlayerID, req.DX, req.DY)
	if err != nil {
		return writeFiberError(c, err)
	}
	return c.JSON(cluster.MoveReply{X: x, Y: y})
}

func (d *Dispatcher) handleAOE(c *fiber.Ctx) error {
	var req aoeRequest
	if err := c.BodyParser(&req); err != nil {
		return writeFiberError(c, cluster.NewError(cluster.KindInvalidArgument, "malformed request body"))
	}
	if err := validateStruct(req); err != nil {
		return writeFiberError(c, err)
	}

	if err := d.AOE(c.Context(), req.PlayerID, req.Radius); err != nil {
		return writeFiberError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (d *Dispatcher) handleQuery(c *fiber.Ctx) error {
	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		return writeFiberError(c, cluster.NewError(cluster.KindInvalidArgument, "malformed request body"))
	}

	box := geometry.AABB{XMin: req.XMin, XMax: req.XMax, YMin: req.YMin, YMax: req.YMax}
	players, err := d.Query(c.Context(), box)
	if err != nil {
		return writeFiberError(c, err)
	}
	return c.JSON(cluster.QueryReply{Players: players})
}

func (d *Dispatcher) handleLogout(c *fiber.Ctx) error {
	var req logoutRequest
	if err := c.BodyParser(&req); err != nil {
		return writeFiberError(c, cluster.NewError(cluster.KindInvalidArgument, "malformed request body"))
	}
	if err := validateStruct(req); err != nil {
		return writeFiberError(c, err)
	}

	if err := d.Logout(c.Context(), req.PlayerID); err != nil {
		return writeFiberError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func writeFiberError(c *fiber.Ctx, err error) error {
	kind := cluster.KindOf(err)
	return c.Status(kind.HTTPStatus()).JSON(fiber.Map{
		"kind":    kind,
		"message": err.Error(),
	})
}
