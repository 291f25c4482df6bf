package catalog

import "assetdesk/backend/pkg/models"

func anchor(name string) string {
	return `[data-tour="` + name + `"]`
}

var defaultScripts = map[models.Role][]models.TourStep{
	models.RoleAdmin: {
		{
			ID:        "admin-welcome",
			Route:     "/dashboard",
			Target:    models.WholeViewport,
			Title:     "Welcome to AssetDesk",
			Content:   "This short tour covers the tools you use to run the asset inventory and the service desk.",
			Placement: models.PlacementCenter,
		},
		{
			ID:        "admin-dashboard-kpis",
			Route:     "/dashboard",
			Target:    anchor("dashboard-kpis"),
			Title:     "Health at a glance",
			Content:   "Open tickets, pending approvals and low-stock items are summarised here and refresh every minute.",
			Placement: "bottom",
		},
		{
			ID:        "admin-assets-table",
			Route:     "/assets",
			Target:    anchor("assets-table"),
			Title:     "Asset inventory",
			Content:   "Every laptop, monitor and licence lives here. Filter by status or owner, and open a row to see its history.",
			Placement: "top",
		},
		{
			ID:        "admin-assets-import",
			Route:     "/assets",
			Target:    anchor("assets-import"),
			Title:     "Bulk import",
			Content:   "Upload a spreadsheet to register a delivery in one go. Rows with errors are listed before anything is saved.",
			Placement: "left",
		},
		{
			ID:        "admin-users",
			Route:     "/users",
			Target:    anchor("users-roles"),
			Title:     "People and roles",
			Content:   "Assign the admin, support, PM or user role. A role change takes effect on the person's next page load.",
			Placement: "right",
		},
		{
			ID:        "admin-approvals",
			Route:     "/approvals",
			Target:    anchor("approvals-queue"),
			Title:     "Approval workflows",
			Content:   "Requests that need sign-off wait here. You can approve on behalf of an absent approver.",
			Placement: "top",
		},
		{
			ID:        "admin-stock",
			Route:     "/stock",
			Target:    anchor("stock-transactions"),
			Title:     "Stock movements",
			Content:   "Every check-in, check-out and transfer is recorded as a transaction you can audit or reverse.",
			Placement: "top",
		},
		{
			ID:        "admin-settings",
			Route:     "/settings",
			Target:    anchor("settings-nav"),
			Title:     "Settings",
			Content:   "Categories, locations and notification rules are configured here. You can replay this tour from the help menu.",
			Placement: "right",
		},
	},
	models.RoleSupport: {
		{
			ID:        "support-welcome",
			Route:     "/tickets",
			Target:    models.WholeViewport,
			Title:     "Welcome to the service desk",
			Content:   "Let's walk through how tickets reach you and how to resolve them.",
			Placement: models.PlacementCenter,
		},
		{
			ID:        "support-queue",
			Route:     "/tickets",
			Target:    anchor("tickets-queue"),
			Title:     "Your queue",
			Content:   "New and reassigned tickets land here, oldest first. Breaching tickets are highlighted in red.",
			Placement: "right",
		},
		{
			ID:        "support-ticket-filters",
			Route:     "/tickets",
			Target:    anchor("tickets-filters"),
			Title:     "Filters",
			Content:   "Narrow the queue by priority, category or requester. Filters are remembered per browser.",
			Placement: "bottom",
		},
		{
			ID:        "support-assets-lookup",
			Route:     "/assets",
			Target:    anchor("assets-search"),
			Title:     "Look up an asset",
			Content:   "Search by serial number or owner to see what a requester has before you reply.",
			Placement: "bottom",
		},
		{
			ID:        "support-stock",
			Route:     "/stock",
			Target:    anchor("stock-checkout"),
			Title:     "Hand out equipment",
			Content:   "Check out a replacement directly from stock. The ticket and the asset history are linked automatically.",
			Placement: "left",
		},
	},
	models.RolePM: {
		{
			ID:        "pm-welcome",
			Route:     "/dashboard",
			Target:    models.WholeViewport,
			Title:     "Welcome",
			Content:   "As a project manager you approve requests and track equipment for your projects.",
			Placement: models.PlacementCenter,
		},
		{
			ID:        "pm-approvals",
			Route:     "/approvals",
			Target:    anchor("approvals-queue"),
			Title:     "Requests awaiting you",
			Content:   "Approve or reject requests from your team. Rejections need a short reason the requester will see.",
			Placement: "top",
		},
		{
			ID:        "pm-approval-history",
			Route:     "/approvals",
			Target:    anchor("approvals-history"),
			Title:     "Decision history",
			Content:   "Everything you have decided is kept here for audit.",
			Placement: "left",
		},
		{
			ID:        "pm-reports",
			Route:     "/reports",
			Target:    anchor("reports-allocation"),
			Title:     "Allocation report",
			Content:   "See which assets are assigned to each project and export the list for budgeting.",
			Placement: "bottom",
		},
	},
	models.RoleUser: {
		{
			ID:        "user-my-assets",
			Route:     "/my-assets",
			Target:    anchor("my-assets-list"),
			Title:     "Your equipment",
			Content:   "Everything assigned to you is listed here. Report a problem from any row.",
			Placement: "bottom",
		},
		{
			ID:        "user-new-ticket",
			Route:     "/tickets",
			Target:    anchor("tickets-new"),
			Title:     "Ask for help",
			Content:   "Open a ticket when something is broken or you need access. You will get email updates.",
			Placement: "left",
		},
		{
			ID:        "user-my-tickets",
			Route:     "/tickets",
			Target:    anchor("tickets-mine"),
			Title:     "Follow up",
			Content:   "Track the status of your tickets and reply to the support team here.",
			Placement: "top",
		},
		{
			ID:        "user-requests",
			Route:     "/requests",
			Target:    anchor("requests-new"),
			Title:     "Request equipment",
			Content:   "Need a new monitor or a licence? Requests go to your manager for approval.",
			Placement: "bottom",
		},
	},
}

// Default returns the catalog with the built-in scripts for every role.
func Default() *Catalog {
	c, err := New(defaultScripts)
	if err != nil {
		panic(err)
	}
	return c
}
